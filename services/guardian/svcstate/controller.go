// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package svcstate pauses background services for the duration of a
// transaction and restores their original run-state afterwards.
package svcstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
)

// ErrStopTimeout indicates a service did not reach the stopped state within
// the bounded wait. The pause is treated as failed; the engine never forces
// a termination.
var ErrStopTimeout = errors.New("service did not stop within the wait bound")

// ServiceStateRecord is the original run-state of one paused service.
//
// Lifecycle: created by Pause, consumed by ResumeAll, then discarded by the
// owning transaction.
type ServiceStateRecord struct {
	Name           string               `json:"name"`
	PriorState     gateway.ServiceState `json:"prior_state"`
	PriorStartMode gateway.StartMode    `json:"prior_start_mode"`
	CanStop        bool                 `json:"can_stop"`
	CanPause       bool                 `json:"can_pause"`
	PausedAt       time.Time            `json:"paused_at"`
}

// ResumeFailure is one service that could not be resumed.
type ResumeFailure struct {
	Name string
	Err  error
}

// ResumeError reports services left un-resumed after ResumeAll drained the
// full record set. Like partial rollback, it is a warning set, never a
// reason to have stopped early.
type ResumeError struct {
	Failures []ResumeFailure
}

func (e *ResumeError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("%d service(s) not resumed (%s)",
		len(e.Failures), strings.Join(names, ", "))
}

// Config tunes the controller. Zero values use defaults.
type Config struct {
	// StopTimeout bounds the wait for a service to reach stopped.
	// Default: 10s.
	StopTimeout time.Duration

	// PollInterval is how often the run-state is re-queried while
	// waiting. Default: 250ms.
	PollInterval time.Duration

	// SettleDelay is the pause between consecutive service starts during
	// resume, to avoid startup storms. Default: 2s.
	SettleDelay time.Duration
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.StopTimeout == 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
}

// Controller pauses and resumes services through the gateway.
//
// # Thread Safety
//
// Stateless apart from its configuration; the transaction orchestrator
// serializes calls.
type Controller struct {
	services  gateway.ServiceManager
	protected map[string]struct{}
	config    Config
	logger    *slog.Logger
}

// NewController creates a controller.
//
// # Inputs
//
//   - services: the gateway's service manager.
//   - protected: service names that must never be paused. This comes from
//     the compiled-in protected policy; it is not caller-configurable.
//   - config: timing configuration; zero values use defaults.
func NewController(services gateway.ServiceManager, protected map[string]struct{}, config Config, logger *slog.Logger) *Controller {
	config.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		services:  services,
		protected: protected,
		config:    config,
		logger:    logger.With("component", "svcstate"),
	}
}

// Pause gracefully stops a running service and records its prior state.
//
// # Description
//
// A protected service, a service that is not currently running, and a
// service that reports it cannot be stopped are all skipped, not errors:
// the record is nil and skipped is true. For a running stoppable service,
// the prior state is recorded, a graceful stop is requested, and the
// run-state is polled until stopped or until StopTimeout elapses. On
// timeout no record is produced and ErrStopTimeout is returned; the
// service is left as the control manager chose to leave it, never killed.
//
// Cancellation of ctx during the wait is treated like a timeout.
//
// # Outputs
//
//   - *ServiceStateRecord: the restore record, nil when skipped or failed.
//   - bool: true when the pause was skipped by policy or current state.
//   - error: query/stop failure or ErrStopTimeout.
func (c *Controller) Pause(ctx context.Context, name string) (*ServiceStateRecord, bool, error) {
	if _, isProtected := c.protected[name]; isProtected {
		c.logger.Info("refusing to pause protected service", "service", name)
		return nil, true, nil
	}

	status, err := c.services.Query(name)
	if err != nil {
		return nil, false, fmt.Errorf("querying service %s: %w", name, err)
	}

	if status.State != gateway.StateRunning {
		c.logger.Debug("service not running, nothing to pause",
			"service", name,
			"state", status.State.String())
		return nil, true, nil
	}
	if !status.CanStop {
		c.logger.Info("service does not accept stop requests, skipping",
			"service", name)
		return nil, true, nil
	}

	record := &ServiceStateRecord{
		Name:           name,
		PriorState:     status.State,
		PriorStartMode: status.StartMode,
		CanStop:        status.CanStop,
		CanPause:       status.CanPause,
		PausedAt:       time.Now(),
	}

	if err := c.services.Stop(ctx, name); err != nil {
		return nil, false, fmt.Errorf("stopping service %s: %w", name, err)
	}

	if err := c.waitForState(ctx, name, gateway.StateStopped); err != nil {
		c.logger.Warn("service did not stop in time, pause abandoned",
			"service", name,
			"timeout", c.config.StopTimeout)
		return nil, false, fmt.Errorf("pausing service %s: %w", name, err)
	}

	c.logger.Info("service paused",
		"service", name,
		"prior_start_mode", record.PriorStartMode.String())
	return record, false, nil
}

// ResumeAll restarts every service whose recorded prior state was running.
//
// # Description
//
// Records are drained in order with a settle delay between consecutive
// starts. A service that is already running again is skipped. Individual
// failures are collected and do not stop the drain; the engine would
// rather leave one service down than several.
//
// The caller's record collection is consumed: after ResumeAll returns, the
// owning transaction discards it regardless of failures.
//
// # Outputs
//
//   - *ResumeError: nil when every applicable service resumed, otherwise
//     the per-service failure set.
func (c *Controller) ResumeAll(ctx context.Context, records []ServiceStateRecord) *ResumeError {
	var failures []ResumeFailure
	started := 0

	for _, rec := range records {
		if rec.PriorState != gateway.StateRunning {
			continue
		}

		status, err := c.services.Query(rec.Name)
		if err == nil && status.State == gateway.StateRunning {
			continue
		}

		if started > 0 {
			c.settle(ctx)
		}

		if err := c.services.Start(ctx, rec.Name); err != nil {
			c.logger.Warn("failed to resume service",
				"service", rec.Name,
				"error", err)
			failures = append(failures, ResumeFailure{Name: rec.Name, Err: err})
			continue
		}
		started++
		c.logger.Info("service resumed", "service", rec.Name)
	}

	if len(failures) > 0 {
		return &ResumeError{Failures: failures}
	}
	return nil
}

func (c *Controller) waitForState(ctx context.Context, name string, want gateway.ServiceState) error {
	deadline := time.Now().Add(c.config.StopTimeout)
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.services.Query(name)
		if err == nil && status.State == want {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrStopTimeout
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStopTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Controller) settle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.config.SettleDelay):
	}
}
