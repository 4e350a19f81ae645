// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the Monitor's sampling loop and alarm thresholds.
type Config struct {
	// Interval between samples. Default: 30s.
	Interval time.Duration

	// WarnThreshold: scores below this emit warnings only. Default: 70.
	WarnThreshold float64

	// CriticalThreshold: scores below this request automatic recovery.
	// Default: 50.
	CriticalThreshold float64

	// HistorySize is the number of samples retained in memory.
	// Default: 120 (one hour at the default interval).
	HistorySize int

	// TrendWindow is the number of recent samples used for trend
	// detection. Default: 20.
	TrendWindow int

	// RecoveryCooldown is the minimum spacing between recovery
	// requests, so a persistently sick machine does not trigger a
	// restore on every tick. Default: 10m.
	RecoveryCooldown time.Duration
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = 70
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 50
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 120
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = 20
	}
	if c.RecoveryCooldown <= 0 {
		c.RecoveryCooldown = 10 * time.Minute
	}
}

// RecoveryRequest asks the transaction layer to restore the newest
// snapshot that still validates against this machine.
type RecoveryRequest struct {
	Score     float64
	Warnings  []string
	Timestamp time.Time
}

// Monitor runs a periodic health sampling loop.
//
// # Description
//
// Each tick it collects a Sample, scores it, appends it to an in-memory
// history ring, and optionally forwards it to a Sink. Scores below the
// warn threshold are logged; scores below the critical threshold emit a
// RecoveryRequest on the Recoveries channel, rate-limited by the
// recovery cooldown. The Monitor never restores anything itself; the
// consumer of the channel decides.
//
// # Thread Safety
//
// Safe for concurrent use. Run is intended for a single background
// goroutine; the accessors may be called from any goroutine.
type Monitor struct {
	sampler Sampler
	sink    Sink
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	history *sampleRing

	recoveries chan RecoveryRequest
}

// NewMonitor creates a monitor. The sink is optional.
func NewMonitor(sampler Sampler, sink Sink, config Config, logger *slog.Logger) *Monitor {
	config.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		sampler:    sampler,
		sink:       sink,
		config:     config,
		limiter:    rate.NewLimiter(rate.Every(config.RecoveryCooldown), 1),
		logger:     logger.With("component", "health_monitor"),
		history:    newSampleRing(config.HistorySize),
		recoveries: make(chan RecoveryRequest, 1),
	}
}

// Recoveries returns the channel on which recovery requests are
// delivered. The channel has capacity 1; a request that arrives while
// a prior one is still unconsumed is dropped.
func (m *Monitor) Recoveries() <-chan RecoveryRequest {
	return m.recoveries
}

// Run blocks, sampling on the configured interval until ctx is
// cancelled. It samples once immediately on entry.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor started",
		"interval", m.config.Interval,
		"warn_threshold", m.config.WarnThreshold,
		"critical_threshold", m.config.CriticalThreshold)

	m.tick(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick performs one sample-score-decide cycle.
func (m *Monitor) tick(ctx context.Context) {
	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("health sample failed", "error", err)
		}
		return
	}

	sample.Score, sample.Warnings = ComputeScore(sample)

	m.mu.Lock()
	m.history.push(sample)
	m.mu.Unlock()

	if m.sink != nil {
		if err := m.sink.Write(ctx, sample); err != nil {
			m.logger.Debug("health sink write failed", "error", err)
		}
	}

	switch {
	case sample.Score < m.config.CriticalThreshold:
		m.logger.Warn("health score critical",
			"score", sample.Score,
			"warnings", sample.Warnings)
		m.requestRecovery(sample)
	case sample.Score < m.config.WarnThreshold:
		m.logger.Warn("health score degraded",
			"score", sample.Score,
			"warnings", sample.Warnings)
	default:
		m.logger.Debug("health sample", "score", sample.Score)
	}
}

func (m *Monitor) requestRecovery(sample Sample) {
	if !m.limiter.Allow() {
		m.logger.Debug("recovery request suppressed by cooldown")
		return
	}

	req := RecoveryRequest{
		Score:     sample.Score,
		Warnings:  sample.Warnings,
		Timestamp: sample.Timestamp,
	}
	select {
	case m.recoveries <- req:
		m.logger.Info("automatic recovery requested", "score", sample.Score)
	default:
		m.logger.Debug("recovery request dropped, prior request pending")
	}
}

// Latest returns the most recent sample, if any.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recent := m.history.last(1)
	if len(recent) == 0 {
		return Sample{}, false
	}
	return recent[0], true
}

// History returns retained samples oldest to newest.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.slice()
}

// Trend reports how the score has moved over the trend window.
func (m *Monitor) Trend() TrendDirection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.trend(m.config.TrendWindow)
}
