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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileGateway is a SystemResourceGateway persisted to local JSON files.
//
// # Description
//
// FileGateway backs the daemon when no platform binding is wired in: the
// configuration store, service run-states, and the network blob live in
// three JSON files under a root directory and survive process restarts.
// Service Stop/Start update the recorded run-state immediately; there is
// no real control manager behind them.
//
// Every mutation is flushed to disk through a temp-file rename, so a
// crash mid-write never leaves a truncated store.
//
// # Thread Safety
//
// Safe for concurrent use. One mutex guards all state.
type FileGateway struct {
	mu   sync.Mutex
	root string

	values   map[string]ConfigValue
	services map[string]fileService
	network  []byte
}

type fileService struct {
	State     ServiceState `json:"state"`
	StartMode StartMode    `json:"start_mode"`
	CanStop   bool         `json:"can_stop"`
	CanPause  bool         `json:"can_pause"`
}

const (
	fileGatewayConfig   = "config.json"
	fileGatewayServices = "services.json"
	fileGatewayNetwork  = "network.json"
)

// NewFileGateway opens (or initializes) a file-backed gateway rooted at
// dir. Existing state files are loaded; missing ones start empty.
func NewFileGateway(dir string) (*FileGateway, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating gateway root: %w", err)
	}
	g := &FileGateway{
		root:     dir,
		values:   make(map[string]ConfigValue),
		services: make(map[string]fileService),
	}
	if err := loadJSON(filepath.Join(dir, fileGatewayConfig), &g.values); err != nil {
		return nil, fmt.Errorf("loading config store: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, fileGatewayServices), &g.services); err != nil {
		return nil, fmt.Errorf("loading service table: %w", err)
	}
	blob, err := os.ReadFile(filepath.Join(dir, fileGatewayNetwork))
	if err == nil {
		g.network = blob
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading network state: %w", err)
	}
	return g, nil
}

func loadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, dst)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Config returns the file-backed ConfigStore view of the gateway.
func (g *FileGateway) Config() ConfigStore { return (*fileConfig)(g) }

// Services returns the file-backed ServiceManager view of the gateway.
func (g *FileGateway) Services() ServiceManager { return (*fileServices)(g) }

// Network returns the file-backed NetworkConfigurator view of the gateway.
func (g *FileGateway) Network() NetworkConfigurator { return (*fileNetwork)(g) }

// RegisterService declares a service in the table if not already present.
// Used at daemon startup to describe the locally managed services.
func (g *FileGateway) RegisterService(name string, status ServiceStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.services[name]; ok {
		return nil
	}
	g.services[name] = fileService{
		State:     status.State,
		StartMode: status.StartMode,
		CanStop:   status.CanStop,
		CanPause:  status.CanPause,
	}
	return g.flushServicesLocked()
}

func (g *FileGateway) flushValuesLocked() error {
	data, err := json.MarshalIndent(g.values, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(g.root, fileGatewayConfig), data)
}

func (g *FileGateway) flushServicesLocked() error {
	data, err := json.MarshalIndent(g.services, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(g.root, fileGatewayServices), data)
}

// -----------------------------------------------------------------------------
// ConfigStore
// -----------------------------------------------------------------------------

type fileConfig FileGateway

func (c *fileConfig) Get(location string) (ConfigValue, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[location]
	return v, ok, nil
}

func (c *fileConfig) Set(location string, value ConfigValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had := c.values[location]
	c.values[location] = value
	if err := (*FileGateway)(c).flushValuesLocked(); err != nil {
		// Keep memory and disk consistent.
		if had {
			c.values[location] = prev
		} else {
			delete(c.values, location)
		}
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	return nil
}

func (c *fileConfig) Delete(location string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had := c.values[location]
	if !had {
		return nil
	}
	delete(c.values, location)
	if err := (*FileGateway)(c).flushValuesLocked(); err != nil {
		c.values[location] = prev
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	return nil
}

func (c *fileConfig) Export(prefixes []string) (map[string]ConfigValue, error) {
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

type fileServices FileGateway

func (s *fileServices) Query(name string) (ServiceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return ServiceStatus{}, ErrResourceUnavailable
	}
	return ServiceStatus{
		State:     svc.State,
		StartMode: svc.StartMode,
		CanStop:   svc.CanStop,
		CanPause:  svc.CanPause,
	}, nil
}

func (s *fileServices) Stop(ctx context.Context, name string) error {
	return s.setState(name, StateStopped)
}

func (s *fileServices) Start(ctx context.Context, name string) error {
	return s.setState(name, StateRunning)
}

func (s *fileServices) setState(name string, state ServiceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return ErrResourceUnavailable
	}
	prev := svc.State
	svc.State = state
	s.services[name] = svc
	if err := (*FileGateway)(s).flushServicesLocked(); err != nil {
		svc.State = prev
		s.services[name] = svc
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// NetworkConfigurator
// -----------------------------------------------------------------------------

type fileNetwork FileGateway

func (n *fileNetwork) Capture() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]byte(nil), n.network...), nil
}

func (n *fileNetwork) Apply(settings []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := writeFileAtomic(filepath.Join(n.root, fileGatewayNetwork), settings); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	n.network = append([]byte(nil), settings...)
	return nil
}
