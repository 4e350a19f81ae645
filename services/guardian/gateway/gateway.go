// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway defines the SystemResourceGateway capability: the narrow
// contract through which the transaction engine touches process-wide machine
// state (the hierarchical configuration store, the service control manager,
// and the network stack).
//
// The real store, service manager, and network stack are externally shared
// resources with no transactional isolation of their own. Everything above
// this package assumes a single injected gateway and never reaches for the
// OS directly, so tests substitute MemGateway and exercise the full engine
// hermetically.
package gateway

import (
	"context"
	"errors"
)

// ErrResourceUnavailable indicates the underlying configuration or service
// API could not be reached. This is usually a permissions problem rather
// than a transient fault.
var ErrResourceUnavailable = errors.New("system resource unavailable")

// ConfigStore is typed read/write access to the hierarchical key/value
// configuration store.
//
// Locations are opaque hierarchical paths (key path plus value name, e.g.
// `system\network\tcp\WindowScaling`). The store distinguishes a value that
// is absent from any present value; Get reports that with its second result
// rather than an error, because absence is ordinary data for the engine.
type ConfigStore interface {
	// Get returns the value at location. The boolean is false when the
	// location does not exist; that is not an error.
	Get(location string) (ConfigValue, bool, error)

	// Set writes a value, creating the location if needed.
	Set(location string, value ConfigValue) error

	// Delete removes the location. Deleting an absent location is a no-op.
	Delete(location string) error

	// Export returns every present value whose location starts with one of
	// the given prefixes. Used to capture the configuration subset stored
	// in snapshots.
	Export(prefixes []string) (map[string]ConfigValue, error)
}

// ServiceState is the run-state of a background service.
type ServiceState int

const (
	StateUnknown ServiceState = iota
	StateRunning
	StateStopped
	StatePaused
)

func (s ServiceState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// StartMode is the configured start behavior of a service.
type StartMode int

const (
	StartUnknown StartMode = iota
	StartAutomatic
	StartManual
	StartDisabled
)

func (m StartMode) String() string {
	switch m {
	case StartAutomatic:
		return "automatic"
	case StartManual:
		return "manual"
	case StartDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ServiceStatus is the observable state of one service.
type ServiceStatus struct {
	State     ServiceState
	StartMode StartMode
	CanStop   bool
	CanPause  bool
}

// ServiceManager queries and controls background services by name.
//
// Stop and Start only issue the request; they return once the control
// manager accepts it. Waiting for the service to actually reach the target
// state is the caller's job, by polling Query, so the bounded-wait policy
// lives in one place (the service state controller) instead of every
// implementation.
type ServiceManager interface {
	Query(name string) (ServiceStatus, error)
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
}

// NetworkConfigurator captures and applies adapter-level network settings
// as an opaque blob. The engine backs the blob up and restores it but never
// interprets it.
type NetworkConfigurator interface {
	Capture() ([]byte, error)
	Apply(settings []byte) error
}

// SystemResourceGateway bundles the three machine-state surfaces the engine
// mutates. A single gateway instance is injected into the orchestrator.
type SystemResourceGateway interface {
	Config() ConfigStore
	Services() ServiceManager
	Network() NetworkConfigurator
}
