// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds the daemon-level configuration for sysrestore.
//
// Configuration is resolved with priority: environment > file > defaults.
// Files may be YAML or JSON; every field carries both tag forms.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/sysrestore/services/guardian/health"
	"github.com/AleutianAI/sysrestore/services/guardian/snapshot"
	"github.com/AleutianAI/sysrestore/services/guardian/svcstate"
)

// configValidate is the validator instance for config structs.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// Config contains all sysrestore daemon configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Backup contains snapshot storage settings.
	Backup BackupConfig `json:"backup" yaml:"backup"`

	// Transaction contains transaction engine settings.
	Transaction TransactionConfig `json:"transaction" yaml:"transaction"`

	// Service contains service pause/resume timing.
	Service ServiceConfig `json:"service" yaml:"service"`

	// Health contains health monitor settings.
	Health HealthConfig `json:"health" yaml:"health"`

	// Influx contains the optional time-series sink settings.
	Influx InfluxConfig `json:"influx" yaml:"influx"`

	// Observability contains metrics/tracing/log settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// BackupConfig contains snapshot storage settings.
type BackupConfig struct {
	// Root directory for snapshot sessions and the catalog.
	Root string `json:"root" yaml:"root" validate:"required"`

	// ExportPrefixes selects the configuration subset captured into
	// every snapshot. Empty means the store default.
	ExportPrefixes []string `json:"export_prefixes" yaml:"export_prefixes"`

	// MaxSnapshots bounds retained snapshots per install.
	MaxSnapshots int `json:"max_snapshots" yaml:"max_snapshots" validate:"gte=0,lte=500"`
}

// TransactionConfig contains transaction engine settings.
type TransactionConfig struct {
	// StateDir is where in-flight transaction state is persisted for
	// crash recovery.
	StateDir string `json:"state_dir" yaml:"state_dir" validate:"required"`

	// CleanupOnInit rolls back transactions left behind by a crashed
	// prior session.
	CleanupOnInit bool `json:"cleanup_on_init" yaml:"cleanup_on_init"`
}

// ServiceConfig contains service pause/resume timing.
type ServiceConfig struct {
	StopTimeout  time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	SettleDelay  time.Duration `json:"settle_delay" yaml:"settle_delay"`
}

// HealthConfig contains health monitor settings.
type HealthConfig struct {
	// Enabled turns the background monitor on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	Interval          time.Duration `json:"interval" yaml:"interval"`
	WarnThreshold     float64       `json:"warn_threshold" yaml:"warn_threshold" validate:"gte=0,lte=100"`
	CriticalThreshold float64       `json:"critical_threshold" yaml:"critical_threshold" validate:"gte=0,lte=100"`
	HistorySize       int           `json:"history_size" yaml:"history_size" validate:"gte=0,lte=100000"`
	TrendWindow       int           `json:"trend_window" yaml:"trend_window" validate:"gte=0"`
	RecoveryCooldown  time.Duration `json:"recovery_cooldown" yaml:"recovery_cooldown"`

	// AutoRecover restores the latest valid snapshot when the score
	// crosses the critical threshold.
	AutoRecover bool `json:"auto_recover" yaml:"auto_recover"`

	// ProbeAddr is the TCP endpoint dialed each sample to measure
	// network latency, e.g. "192.168.1.1:53". Empty disables the probe.
	ProbeAddr string `json:"probe_addr" yaml:"probe_addr" validate:"omitempty,hostname_port"`
}

// InfluxConfig contains the optional time-series sink settings.
//
// The sink is enabled when URL is non-empty.
type InfluxConfig struct {
	URL    string `json:"url" yaml:"url" validate:"omitempty,url"`
	Token  string `json:"token" yaml:"token"`
	Org    string `json:"org" yaml:"org"`
	Bucket string `json:"bucket" yaml:"bucket"`
}

// ObservabilityConfig contains metrics/tracing/log settings.
type ObservabilityConfig struct {
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`

	// MetricsListenAddr serves Prometheus metrics when non-empty,
	// e.g. ":9464".
	MetricsListenAddr string `json:"metrics_listen_addr" yaml:"metrics_listen_addr"`

	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogDir   string `json:"log_dir" yaml:"log_dir"`
	LogJSON  bool   `json:"log_json" yaml:"log_json"`
}

// Default returns the default configuration.
//
// Outputs:
//   - Config: Default configuration with sensible values.
func Default() Config {
	return Config{
		Backup: BackupConfig{
			Root:         "~/.sysrestore/backups",
			MaxSnapshots: 25,
		},
		Transaction: TransactionConfig{
			StateDir:      "~/.sysrestore/state",
			CleanupOnInit: true,
		},
		Service: ServiceConfig{
			StopTimeout:  10 * time.Second,
			PollInterval: 250 * time.Millisecond,
			SettleDelay:  2 * time.Second,
		},
		Health: HealthConfig{
			Enabled:           true,
			Interval:          30 * time.Second,
			WarnThreshold:     70,
			CriticalThreshold: 50,
			HistorySize:       120,
			TrendWindow:       20,
			RecoveryCooldown:  10 * time.Minute,
			AutoRecover:       true,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			TracingEnabled: true,
			LogLevel:       "info",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or validation fails.
func Load(configPath string) (Config, error) {
	config := Default()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

func loadConfigFromEnv(config *Config) {
	// Backup
	if v := os.Getenv("SYSRESTORE_BACKUP_ROOT"); v != "" {
		config.Backup.Root = v
	}
	if v := os.Getenv("SYSRESTORE_MAX_SNAPSHOTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Backup.MaxSnapshots = i
		}
	}

	// Transaction
	if v := os.Getenv("SYSRESTORE_STATE_DIR"); v != "" {
		config.Transaction.StateDir = v
	}
	if v := os.Getenv("SYSRESTORE_CLEANUP_ON_INIT"); v != "" {
		config.Transaction.CleanupOnInit = v == "true" || v == "1"
	}

	// Health
	if v := os.Getenv("SYSRESTORE_HEALTH_ENABLED"); v != "" {
		config.Health.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SYSRESTORE_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Health.Interval = d
		}
	}
	if v := os.Getenv("SYSRESTORE_WARN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Health.WarnThreshold = f
		}
	}
	if v := os.Getenv("SYSRESTORE_CRITICAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Health.CriticalThreshold = f
		}
	}
	if v := os.Getenv("SYSRESTORE_RECOVERY_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Health.RecoveryCooldown = d
		}
	}
	if v := os.Getenv("SYSRESTORE_AUTO_RECOVER"); v != "" {
		config.Health.AutoRecover = v == "true" || v == "1"
	}
	if v := os.Getenv("SYSRESTORE_HEALTH_PROBE_ADDR"); v != "" {
		config.Health.ProbeAddr = v
	}

	// Influx
	if v := os.Getenv("SYSRESTORE_INFLUX_URL"); v != "" {
		config.Influx.URL = v
	}
	if v := os.Getenv("SYSRESTORE_INFLUX_TOKEN"); v != "" {
		config.Influx.Token = v
	}
	if v := os.Getenv("SYSRESTORE_INFLUX_ORG"); v != "" {
		config.Influx.Org = v
	}
	if v := os.Getenv("SYSRESTORE_INFLUX_BUCKET"); v != "" {
		config.Influx.Bucket = v
	}

	// Observability
	if v := os.Getenv("SYSRESTORE_METRICS_ENABLED"); v != "" {
		config.Observability.MetricsEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SYSRESTORE_TRACING_ENABLED"); v != "" {
		config.Observability.TracingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SYSRESTORE_METRICS_LISTEN_ADDR"); v != "" {
		config.Observability.MetricsListenAddr = v
	}
	if v := os.Getenv("SYSRESTORE_LOG_LEVEL"); v != "" {
		config.Observability.LogLevel = v
	}
	if v := os.Getenv("SYSRESTORE_LOG_DIR"); v != "" {
		config.Observability.LogDir = v
	}
}

// Validate checks that the configuration is valid.
//
// Structural constraints are enforced through validator tags; rules
// spanning multiple fields are checked explicitly.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return err
	}
	if c.Health.CriticalThreshold > c.Health.WarnThreshold {
		return fmt.Errorf("critical_threshold must be <= warn_threshold")
	}
	if c.Health.Enabled && c.Health.Interval <= 0 {
		return fmt.Errorf("health interval must be > 0")
	}
	if c.Service.StopTimeout <= 0 {
		return fmt.Errorf("service stop_timeout must be > 0")
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx org and bucket are required when url is set")
	}
	return nil
}

// InfluxEnabled reports whether a time-series sink is configured.
func (c Config) InfluxEnabled() bool {
	return c.Influx.URL != ""
}

// ToSnapshotConfig converts BackupConfig to the snapshot store config.
func (c BackupConfig) ToSnapshotConfig() snapshot.Config {
	return snapshot.Config{
		BackupRoot:     expandPath(c.Root),
		ExportPrefixes: c.ExportPrefixes,
		MaxSnapshots:   c.MaxSnapshots,
	}
}

// ToServiceConfig converts ServiceConfig to the controller config.
func (c ServiceConfig) ToServiceConfig() svcstate.Config {
	return svcstate.Config{
		StopTimeout:  c.StopTimeout,
		PollInterval: c.PollInterval,
		SettleDelay:  c.SettleDelay,
	}
}

// ToMonitorConfig converts HealthConfig to the monitor config.
func (c HealthConfig) ToMonitorConfig() health.Config {
	return health.Config{
		Interval:          c.Interval,
		WarnThreshold:     c.WarnThreshold,
		CriticalThreshold: c.CriticalThreshold,
		HistorySize:       c.HistorySize,
		TrendWindow:       c.TrendWindow,
		RecoveryCooldown:  c.RecoveryCooldown,
	}
}

// StateDirPath returns the transaction state directory with ~ expanded.
func (c TransactionConfig) StateDirPath() string {
	return expandPath(c.StateDir)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
