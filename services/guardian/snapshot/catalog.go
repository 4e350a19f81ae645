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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// catalogPrefix namespaces catalog keys. The key suffix is the capture time
// in a fixed-width UTC layout, so lexical order is chronological order and a
// reverse iteration yields snapshots newest-first.
const catalogPrefix = "snap:"

// catalogTimeLayout pads the fraction to nine digits. RFC3339Nano trims
// trailing zeros, which would sort a whole-second timestamp after a
// fractional one in the same second.
const catalogTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Info is the indexed metadata for one persisted snapshot. The
// fingerprint lives here too so FindLatestValid can reject foreign
// snapshots without parsing their full files.
type Info struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Label       string    `json:"label"`
	Fingerprint string    `json:"fingerprint"`
	Path        string    `json:"path"`
}

// catalog is the BadgerDB index over persisted snapshot files.
type catalog struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// openCatalog opens the catalog database at path, or in memory when path is
// empty (tests).
func openCatalog(path string, logger *slog.Logger) (*catalog, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot catalog: %w", err)
	}
	return &catalog{db: db, logger: logger}, nil
}

func (c *catalog) close() error {
	return c.db.Close()
}

func catalogKey(createdAt time.Time, id string) []byte {
	return []byte(catalogPrefix + createdAt.UTC().Format(catalogTimeLayout) + ":" + id)
}

// put indexes one snapshot.
func (c *catalog) put(e Info) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling catalog entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(catalogKey(e.CreatedAt, e.ID), data)
	})
}

// remove drops one snapshot from the index.
func (c *catalog) remove(e Info) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(catalogKey(e.CreatedAt, e.ID))
	})
}

// newestFirst returns all indexed entries, newest first. Entries that fail
// to parse are skipped with a log line; the file scan fallback still covers
// them.
func (c *catalog) newestFirst() ([]Info, error) {
	var entries []Info
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(catalogPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the whole prefix range.
		seek := append([]byte(catalogPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(catalogPrefix)); it.Next() {
			var e Info
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				c.logger.Warn("skipping malformed catalog entry",
					"key", string(it.Item().Key()),
					"error", err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot catalog: %w", err)
	}
	return entries, nil
}
