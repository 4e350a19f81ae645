// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.Backup.MaxSnapshots)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, float64(70), cfg.Health.WarnThreshold)
	assert.Equal(t, float64(50), cfg.Health.CriticalThreshold)
	assert.True(t, cfg.Health.AutoRecover)
	assert.False(t, cfg.InfluxEnabled())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Backup.MaxSnapshots, cfg.Backup.MaxSnapshots)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backup:
  root: /var/lib/sysrestore/backups
  max_snapshots: 5
  export_prefixes:
    - tune
    - net
transaction:
  state_dir: /var/lib/sysrestore/state
  cleanup_on_init: false
health:
  enabled: true
  warn_threshold: 80
  critical_threshold: 40
observability:
  log_level: debug
  metrics_listen_addr: ":9464"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/sysrestore/backups", cfg.Backup.Root)
	assert.Equal(t, 5, cfg.Backup.MaxSnapshots)
	assert.Equal(t, []string{"tune", "net"}, cfg.Backup.ExportPrefixes)
	assert.False(t, cfg.Transaction.CleanupOnInit)
	assert.Equal(t, float64(80), cfg.Health.WarnThreshold)
	assert.Equal(t, float64(40), cfg.Health.CriticalThreshold)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, ":9464", cfg.Observability.MetricsListenAddr)
	// Untouched sections keep defaults.
	assert.Equal(t, 10*time.Second, cfg.Service.StopTimeout)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"backup":{"root":"/tmp/b","max_snapshots":3},"transaction":{"state_dir":"/tmp/s"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b", cfg.Backup.Root)
	assert.Equal(t, 3, cfg.Backup.MaxSnapshots)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not valid: [yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SYSRESTORE_MAX_SNAPSHOTS", "7")
	t.Setenv("SYSRESTORE_CRITICAL_THRESHOLD", "30")
	t.Setenv("SYSRESTORE_HEALTH_INTERVAL", "5s")
	t.Setenv("SYSRESTORE_AUTO_RECOVER", "0")
	t.Setenv("SYSRESTORE_HEALTH_PROBE_ADDR", "10.0.0.1:53")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Backup.MaxSnapshots)
	assert.Equal(t, float64(30), cfg.Health.CriticalThreshold)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval)
	assert.False(t, cfg.Health.AutoRecover)
	assert.Equal(t, "10.0.0.1:53", cfg.Health.ProbeAddr)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Health.WarnThreshold = 40
	cfg.Health.CriticalThreshold = 60
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingBackupRoot(t *testing.T) {
	cfg := Default()
	cfg.Backup.Root = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Observability.LogLevel = "loud"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsInfluxWithoutBucket(t *testing.T) {
	cfg := Default()
	cfg.Influx.URL = "http://localhost:8086"
	cfg.Influx.Org = "sysrestore"
	require.Error(t, cfg.Validate())

	cfg.Influx.Bucket = "health"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.InfluxEnabled())
}

func TestSubConfigConversions(t *testing.T) {
	cfg := Default()
	cfg.Backup.Root = "/srv/backups"

	snapCfg := cfg.Backup.ToSnapshotConfig()
	assert.Equal(t, "/srv/backups", snapCfg.BackupRoot)
	assert.Equal(t, 25, snapCfg.MaxSnapshots)

	svcCfg := cfg.Service.ToServiceConfig()
	assert.Equal(t, 10*time.Second, svcCfg.StopTimeout)

	monCfg := cfg.Health.ToMonitorConfig()
	assert.Equal(t, float64(50), monCfg.CriticalThreshold)
	assert.Equal(t, 10*time.Minute, monCfg.RecoveryCooldown)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home+"/.sysrestore/state", expandPath("~/.sysrestore/state"))
	assert.Equal(t, "/var/lib/state", expandPath("/var/lib/state"))
}
