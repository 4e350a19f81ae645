// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sysrestore/services/guardian/fingerprint"
	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
	"github.com/AleutianAI/sysrestore/services/guardian/protected"
	"github.com/AleutianAI/sysrestore/services/guardian/svcstate"
)

// Config configures the snapshot store. Zero values use defaults.
type Config struct {
	// BackupRoot is the directory holding session subdirectories and the
	// catalog. Required.
	BackupRoot string

	// InMemoryCatalog keeps the catalog off disk. Tests only.
	InMemoryCatalog bool

	// ExportPrefixes selects the configuration subset captured into every
	// snapshot. Default: the engine's tuning subtree.
	ExportPrefixes []string

	// MaxSnapshots bounds retained snapshots; older ones are pruned after
	// each create. Default: 25.
	MaxSnapshots int
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if len(c.ExportPrefixes) == 0 {
		c.ExportPrefixes = []string{`tune`}
	}
	if c.MaxSnapshots == 0 {
		c.MaxSnapshots = 25
	}
}

// Store captures, persists, and retrieves snapshots.
//
// # Description
//
// Each process run gets its own session directory under
// `<BackupRoot>/sessions/`; Load searches the current and all prior
// session directories, so snapshots survive restarts. The BadgerDB catalog
// is an index only — losing it degrades FindLatestValid to a file scan but
// loses no snapshot.
//
// # Thread Safety
//
// Safe for concurrent use; the catalog serializes its own writes and file
// writes only ever target fresh paths.
type Store struct {
	config     Config
	sessionDir string

	gw     gateway.SystemResourceGateway
	fp     *fingerprint.Generator
	policy protected.Policy

	cat    *catalog
	logger *slog.Logger
}

// NewStore creates the session directory and opens the catalog.
func NewStore(config Config, gw gateway.SystemResourceGateway, fp *fingerprint.Generator, policy protected.Policy, logger *slog.Logger) (*Store, error) {
	if config.BackupRoot == "" {
		return nil, fmt.Errorf("BackupRoot is required")
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "snapshot.Store")

	sessionDir := filepath.Join(config.BackupRoot, "sessions",
		time.Now().Format("20060102-150405")+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(sessionDir, 0750); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	catalogPath := filepath.Join(config.BackupRoot, "catalog")
	if config.InMemoryCatalog {
		catalogPath = ""
	}
	cat, err := openCatalog(catalogPath, logger)
	if err != nil {
		return nil, err
	}

	return &Store{
		config:     config,
		sessionDir: sessionDir,
		gw:         gw,
		fp:         fp,
		policy:     policy,
		cat:        cat,
		logger:     logger,
	}, nil
}

// Close releases the catalog database.
func (s *Store) Close() error {
	return s.cat.close()
}

// Create captures current system state under a fresh identifier.
//
// # Description
//
// The configuration export, network capture, and protected-resource
// hashing run concurrently; the snapshot file is persisted before the
// snapshot is indexed or returned, so nothing ever references a snapshot
// that is not on disk. Retention pruning runs afterwards.
//
// # Inputs
//
//   - ctx: cancellation between capture sections.
//   - label: free-text operation label.
//   - serviceStates: service records currently tracked by the caller's
//     transaction, captured verbatim.
//
// # Outputs
//
//   - *Snapshot: the persisted capture.
//   - error: capture or persistence failure.
func (s *Store) Create(ctx context.Context, label string, serviceStates []svcstate.ServiceStateRecord) (*Snapshot, error) {
	snap := &Snapshot{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Label:         label,
		Fingerprint:   s.fp.Generate(),
		ServiceStates: append([]svcstate.ServiceStateRecord(nil), serviceStates...),
		FormatVersion: FormatVersion,
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		export, err := s.gw.Config().Export(s.config.ExportPrefixes)
		if err != nil {
			return fmt.Errorf("exporting configuration subset: %w", err)
		}
		snap.ConfigExport = export
		return nil
	})
	g.Go(func() error {
		blob, err := s.gw.Network().Capture()
		if err != nil {
			return fmt.Errorf("capturing network settings: %w", err)
		}
		snap.NetworkState = blob
		return nil
	})
	g.Go(func() error {
		snap.ProtectedHashes = s.policy.HashPaths()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.snapshotPath(s.sessionDir, snap.ID)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return nil, fmt.Errorf("persisting snapshot: %w", err)
	}

	if err := s.cat.put(Info{
		ID:          snap.ID,
		CreatedAt:   snap.CreatedAt,
		Label:       snap.Label,
		Fingerprint: snap.Fingerprint,
		Path:        path,
	}); err != nil {
		// The file is the source of truth; a failed index entry only
		// costs scan speed.
		s.logger.Warn("failed to index snapshot", "id", snap.ID, "error", err)
	}

	s.prune()

	s.logger.Info("snapshot created",
		"id", snap.ID,
		"label", label,
		"config_entries", len(snap.ConfigExport),
		"service_states", len(snap.ServiceStates))
	return snap, nil
}

// Load retrieves a persisted snapshot by identifier.
//
// # Description
//
// Searches the current session directory first, then every prior session
// directory under the backup root. A missing or malformed file yields
// (nil, nil): the caller decides whether an absent snapshot is an error.
// Unknown JSON fields are tolerated for forward compatibility.
func (s *Store) Load(id string) (*Snapshot, error) {
	candidates := []string{s.snapshotPath(s.sessionDir, id)}

	sessions, err := os.ReadDir(filepath.Join(s.config.BackupRoot, "sessions"))
	if err == nil {
		for _, e := range sessions {
			if !e.IsDir() {
				continue
			}
			candidates = append(candidates,
				s.snapshotPath(filepath.Join(s.config.BackupRoot, "sessions", e.Name()), id))
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			s.logger.Warn("snapshot file malformed", "path", path, "error", err)
			continue
		}
		if snap.ID != id {
			s.logger.Warn("snapshot file id mismatch", "path", path, "id", snap.ID)
			continue
		}
		return &snap, nil
	}
	return nil, nil
}

// FindLatestValid returns the newest snapshot whose fingerprint still
// validates against the current machine, or nil when none does.
//
// Used by automatic recovery: it must never hand back a snapshot captured
// on different hardware.
func (s *Store) FindLatestValid(ctx context.Context) (*Snapshot, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.fp.Validate(e.Fingerprint) {
			s.logger.Debug("skipping snapshot with stale fingerprint", "id", e.ID)
			continue
		}
		snap, err := s.Load(e.ID)
		if err != nil || snap == nil {
			continue
		}
		return snap, nil
	}
	return nil, nil
}

// List returns metadata for all known snapshots, newest first. The catalog
// is preferred; when it is empty the session directories are scanned.
func (s *Store) List() ([]Info, error) {
	entries, err := s.cat.newestFirst()
	if err != nil {
		s.logger.Warn("catalog scan failed, falling back to file scan", "error", err)
	}
	if len(entries) > 0 {
		return entries, nil
	}
	return s.scanFiles()
}

// scanFiles rebuilds the snapshot list from the files themselves.
func (s *Store) scanFiles() ([]Info, error) {
	pattern := filepath.Join(s.config.BackupRoot, "sessions", "*", "snapshot_*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot files: %w", err)
	}

	var entries []Info
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		entries = append(entries, Info{
			ID:          snap.ID,
			CreatedAt:   snap.CreatedAt,
			Label:       snap.Label,
			Fingerprint: snap.Fingerprint,
			Path:        path,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// prune removes snapshots beyond the retention bound, oldest first.
func (s *Store) prune() {
	entries, err := s.cat.newestFirst()
	if err != nil || len(entries) <= s.config.MaxSnapshots {
		return
	}
	for _, e := range entries[s.config.MaxSnapshots:] {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to prune snapshot file", "path", e.Path, "error", err)
			continue
		}
		if err := s.cat.remove(e); err != nil {
			s.logger.Warn("failed to prune catalog entry", "id", e.ID, "error", err)
		}
		s.logger.Info("pruned snapshot", "id", e.ID, "created_at", e.CreatedAt)
	}
}

func (s *Store) snapshotPath(dir, id string) string {
	return filepath.Join(dir, "snapshot_"+id+".json")
}
