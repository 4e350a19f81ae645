// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"strings"
	"sync"
)

// MemGateway is an in-memory SystemResourceGateway.
//
// # Description
//
// Implements the full gateway contract against process-local maps, with
// fault injection hooks so tests can force failures at precise points
// (a specific Set, a service that never reaches stopped, a failing network
// apply). It is the substitute for the real registry/service-manager/network
// stack in every engine test.
//
// # Thread Safety
//
// Safe for concurrent use. One mutex guards all state, which is fine at
// test scale.
type MemGateway struct {
	mu sync.Mutex

	values map[string]ConfigValue

	services map[string]*memService

	networkBlob []byte

	// Fault injection. A nil map entry means no injected fault.
	SetErr    map[string]error // by location
	DeleteErr map[string]error // by location
	StopErr   map[string]error // by service name
	StartErr  map[string]error // by service name
	QueryErr  map[string]error // by service name
	CaptureFn error            // returned by Capture when non-nil
	ApplyFn   error            // returned by Apply when non-nil

	// SetCalls counts Set invocations, letting tests fail "the Nth write"
	// via SetErrAt.
	SetCalls int
	SetErrAt map[int]error // 1-based call index

	// AppliedBlobs records every blob passed to Apply, newest last.
	AppliedBlobs [][]byte
}

type memService struct {
	status ServiceStatus

	// stopping counts down on Query; when it reaches zero the service
	// transitions to stopped. Lets tests exercise the bounded wait.
	stopping      bool
	stopCountdown int

	// neverStops keeps the service running after Stop, for timeout tests.
	neverStops bool
}

// NewMemGateway returns an empty in-memory gateway.
func NewMemGateway() *MemGateway {
	return &MemGateway{
		values:    make(map[string]ConfigValue),
		services:  make(map[string]*memService),
		SetErr:    make(map[string]error),
		DeleteErr: make(map[string]error),
		StopErr:   make(map[string]error),
		StartErr:  make(map[string]error),
		QueryErr:  make(map[string]error),
		SetErrAt:  make(map[int]error),
	}
}

// Config returns the in-memory ConfigStore view of the gateway.
func (g *MemGateway) Config() ConfigStore { return (*memConfig)(g) }

// Services returns the in-memory ServiceManager view of the gateway.
func (g *MemGateway) Services() ServiceManager { return (*memServices)(g) }

// Network returns the in-memory NetworkConfigurator view of the gateway.
func (g *MemGateway) Network() NetworkConfigurator { return (*memNetwork)(g) }

// Seed sets a value without going through fault injection. Test setup only.
func (g *MemGateway) Seed(location string, v ConfigValue) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[location] = v
}

// Value reads a value directly for assertions, bypassing fault injection.
func (g *MemGateway) Value(location string) (ConfigValue, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.values[location]
	return v, ok
}

// ValueCount returns the number of present locations.
func (g *MemGateway) ValueCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.values)
}

// AddService registers a service in the given state.
func (g *MemGateway) AddService(name string, status ServiceStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.services[name] = &memService{status: status}
}

// SetStopBehavior tunes how a service reacts to Stop: it transitions to
// stopped after afterQueries Query calls, or never when neverStops is set.
func (g *MemGateway) SetStopBehavior(name string, afterQueries int, neverStops bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if svc, ok := g.services[name]; ok {
		svc.stopCountdown = afterQueries
		svc.neverStops = neverStops
	}
}

// ServiceState reports the current state of a service for assertions.
func (g *MemGateway) ServiceState(name string) ServiceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if svc, ok := g.services[name]; ok {
		return svc.status.State
	}
	return StateUnknown
}

// SetNetworkBlob seeds the current network configuration.
func (g *MemGateway) SetNetworkBlob(b []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.networkBlob = append([]byte(nil), b...)
}

// -----------------------------------------------------------------------------
// ConfigStore
// -----------------------------------------------------------------------------

type memConfig MemGateway

func (c *memConfig) Get(location string) (ConfigValue, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[location]
	return v, ok, nil
}

func (c *memConfig) Set(location string, value ConfigValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetCalls++
	if err := c.SetErrAt[c.SetCalls]; err != nil {
		return err
	}
	if err := c.SetErr[location]; err != nil {
		return err
	}
	c.values[location] = value
	return nil
}

func (c *memConfig) Delete(location string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.DeleteErr[location]; err != nil {
		return err
	}
	delete(c.values, location)
	return nil
}

func (c *memConfig) Export(prefixes []string) (map[string]ConfigValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ConfigValue)
	for loc, v := range c.values {
		for _, p := range prefixes {
			if strings.HasPrefix(loc, p) {
				out[loc] = v
				break
			}
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// ServiceManager
// -----------------------------------------------------------------------------

type memServices MemGateway

func (s *memServices) Query(name string) (ServiceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.QueryErr[name]; err != nil {
		return ServiceStatus{}, err
	}
	svc, ok := s.services[name]
	if !ok {
		return ServiceStatus{}, ErrResourceUnavailable
	}
	if svc.stopping && !svc.neverStops {
		if svc.stopCountdown > 0 {
			svc.stopCountdown--
		}
		if svc.stopCountdown == 0 {
			svc.stopping = false
			svc.status.State = StateStopped
		}
	}
	return svc.status, nil
}

func (s *memServices) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.StopErr[name]; err != nil {
		return err
	}
	svc, ok := s.services[name]
	if !ok {
		return ErrResourceUnavailable
	}
	if svc.neverStops {
		return nil // request accepted, state never changes
	}
	if svc.stopCountdown > 0 {
		svc.stopping = true
		return nil
	}
	svc.status.State = StateStopped
	return nil
}

func (s *memServices) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.StartErr[name]; err != nil {
		return err
	}
	svc, ok := s.services[name]
	if !ok {
		return ErrResourceUnavailable
	}
	svc.status.State = StateRunning
	return nil
}

// -----------------------------------------------------------------------------
// NetworkConfigurator
// -----------------------------------------------------------------------------

type memNetwork MemGateway

func (n *memNetwork) Capture() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.CaptureFn != nil {
		return nil, n.CaptureFn
	}
	return append([]byte(nil), n.networkBlob...), nil
}

func (n *memNetwork) Apply(settings []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ApplyFn != nil {
		return n.ApplyFn
	}
	n.networkBlob = append([]byte(nil), settings...)
	n.AppliedBlobs = append(n.AppliedBlobs, append([]byte(nil), settings...))
	return nil
}
