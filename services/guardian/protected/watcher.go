// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protected

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes protected filesystem paths between snapshots and flags
// writes to them as drift the moment they happen, instead of only at the
// next restore-time attestation.
//
// # Thread Safety
//
// Safe for concurrent use. Run is intended to be launched once as a
// background goroutine and exits when its context is cancelled.
type Watcher struct {
	policy Policy
	logger *slog.Logger

	fsw        *fsnotify.Watcher
	driftCount atomic.Int64

	// OnDrift, when set, is invoked for every drift event. It runs on the
	// watcher goroutine and must not block.
	OnDrift func(path string)
}

// NewWatcher creates a watcher over the policy's paths. Paths that do not
// exist yet are skipped with a log line; they are still covered by the
// restore-time hash attestation.
func NewWatcher(policy Policy, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	w := &Watcher{
		policy: policy,
		logger: logger.With("component", "protected_watcher"),
		fsw:    fsw,
	}

	watched := 0
	for _, path := range policy.Paths {
		if err := fsw.Add(path); err != nil {
			w.logger.Debug("protected path not watchable", "path", path, "error", err)
			continue
		}
		watched++
	}
	w.logger.Info("protected-resource watcher armed",
		"watched", watched,
		"declared", len(policy.Paths))

	return w, nil
}

// Run processes filesystem events until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			w.driftCount.Add(1)
			w.logger.Warn("protected resource modified",
				"path", ev.Name,
				"op", ev.Op.String())
			if w.OnDrift != nil {
				w.OnDrift(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// DriftCount returns the number of drift events observed so far.
func (w *Watcher) DriftCount() int64 {
	return w.driftCount.Load()
}
