// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for transaction metrics.
var meter = otel.Meter("sysrestore.transaction")

// Metric instruments for transaction operations.
var (
	beginTotal          metric.Int64Counter
	applyTotal          metric.Int64Counter
	commitTotal         metric.Int64Counter
	rollbackTotal       metric.Int64Counter
	restoreTotal        metric.Int64Counter
	integrityTotal      metric.Int64Counter
	transactionDuration metric.Float64Histogram
	mutationsApplied    metric.Int64Histogram
	activeGauge         metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Manager on initialization.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		beginTotal, err = meter.Int64Counter(
			"transaction_begin_total",
			metric.WithDescription("Total number of transaction begin operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applyTotal, err = meter.Int64Counter(
			"transaction_apply_total",
			metric.WithDescription("Total number of mutation batch applications"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"transaction_commit_total",
			metric.WithDescription("Total number of transaction commit operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"transaction_rollback_total",
			metric.WithDescription("Total number of transaction rollback operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoreTotal, err = meter.Int64Counter(
			"transaction_restore_total",
			metric.WithDescription("Total number of snapshot restore operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		integrityTotal, err = meter.Int64Counter(
			"transaction_integrity_violations_total",
			metric.WithDescription("Total number of restores refused on fingerprint mismatch"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transactionDuration, err = meter.Float64Histogram(
			"transaction_duration_seconds",
			metric.WithDescription("Duration of transactions in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutationsApplied, err = meter.Int64Histogram(
			"transaction_mutations_applied",
			metric.WithDescription("Number of mutations per transaction"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeGauge, err = meter.Int64UpDownCounter(
			"transaction_active",
			metric.WithDescription("Number of currently active transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBegin records a transaction begin operation.
func recordBegin(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	beginTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// recordApply records a mutation batch application.
func recordApply(ctx context.Context, mutations int, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	applyTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	mutationsApplied.Record(ctx, int64(mutations), metric.WithAttributes(
		attribute.String("status", status),
	))
}

// recordCommit records a transaction commit operation.
func recordCommit(ctx context.Context, duration time.Duration, mutations int, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	commitTotal.Add(ctx, 1, attrs)
	transactionDuration.Record(ctx, duration.Seconds(), attrs)
	mutationsApplied.Record(ctx, int64(mutations), attrs)
}

// recordRollback records a transaction rollback operation.
//
// # Inputs
//
//   - reason: Bounded cause label (apply_failure, revert, cleanup,
//     manager_close).
func recordRollback(ctx context.Context, duration time.Duration, mutations int, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("status", "rolled_back"),
		attribute.String("reason", reason),
	)

	rollbackTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
	transactionDuration.Record(ctx, duration.Seconds(), attrs)
	mutationsApplied.Record(ctx, int64(mutations), attrs)
}

// recordRestore records a snapshot restore operation.
func recordRestore(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	restoreTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// recordIntegrityViolation records a restore refused on fingerprint
// mismatch.
func recordIntegrityViolation(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	integrityTotal.Add(ctx, 1)
}

// incActive increments the active transaction gauge.
func incActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, 1)
}

// decActive decrements the active transaction gauge.
func decActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, -1)
}
