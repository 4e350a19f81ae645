// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger records individual configuration mutations so they can be
// undone in exactly reverse order.
package ledger

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
)

// MutationRecord is one reversible configuration change.
type MutationRecord struct {
	// Location is the opaque path of the mutated resource.
	Location string `json:"location"`

	// Prior is the value before the mutation. Meaningless when
	// PriorAbsent is true.
	Prior gateway.ConfigValue `json:"prior"`

	// PriorAbsent marks a location that did not exist before the
	// mutation. Undo deletes the location instead of writing Prior.
	PriorAbsent bool `json:"prior_absent"`

	// New is the value written by the mutation.
	New gateway.ConfigValue `json:"new"`

	// AppliedAt is when the record was taken (immediately before the
	// underlying write).
	AppliedAt time.Time `json:"applied_at"`
}

// EntryFailure is one ledger entry that could not be restored during
// reverse replay.
type EntryFailure struct {
	Location string
	Err      error
}

// PartialRollbackError reports entries that failed to restore during
// ReplayReverse. It is a warning set: the replay itself ran to completion
// over every entry, and the caller must surface these failures rather than
// report blanket success.
type PartialRollbackError struct {
	Failures []EntryFailure
}

func (e *PartialRollbackError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("rollback left 1 entry unrestored (%s: %v)",
			e.Failures[0].Location, e.Failures[0].Err)
	}
	locs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		locs = append(locs, f.Location)
	}
	return fmt.Sprintf("rollback left %d entries unrestored (%s)",
		len(e.Failures), strings.Join(locs, ", "))
}

// Ledger is the ordered, append-only mutation record of one transaction.
//
// # Description
//
// Every mutation applied through the engine produces exactly one record
// before the underlying write occurs; Apply enforces that ordering. The
// sequence is totally ordered by application order and ReplayReverse
// undoes it newest-first, which matters when two mutations target the same
// or dependent locations.
//
// # Thread Safety
//
// NOT safe for concurrent use; the transaction orchestrator serializes all
// access behind its own mutex.
type Ledger struct {
	records []MutationRecord
	logger  *slog.Logger
}

// New returns an empty ledger.
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger: logger.With("component", "ledger"),
	}
}

// FromRecords rebuilds a ledger from previously persisted records, for
// replaying a transaction that outlived its process.
func FromRecords(records []MutationRecord, logger *slog.Logger) *Ledger {
	l := New(logger)
	l.records = append(l.records, records...)
	return l
}

// Record appends a mutation record. Callers other than Apply are expected
// to have read prior state themselves and to perform the write only after
// Record returns.
func (l *Ledger) Record(location string, prior gateway.ConfigValue, priorAbsent bool, newValue gateway.ConfigValue) {
	l.records = append(l.records, MutationRecord{
		Location:    location,
		Prior:       prior,
		PriorAbsent: priorAbsent,
		New:         newValue,
		AppliedAt:   time.Now(),
	})
}

// Apply performs one backed-up mutation: it reads the prior value at
// location, records it, and only then writes the new value.
//
// # Description
//
// This is the ordering invariant of the whole engine: no entry reaches the
// store without a record taken first. If the write itself fails the record
// is kept anyway; replaying it rewrites the prior value over an unchanged
// location, which is harmless and errs toward restoration.
//
// # Outputs
//
//   - error: the read or write failure, unwrapped from the store.
func (l *Ledger) Apply(store gateway.ConfigStore, location string, value gateway.ConfigValue) error {
	prior, present, err := store.Get(location)
	if err != nil {
		return fmt.Errorf("reading prior value at %s: %w", location, err)
	}

	l.Record(location, prior, !present, value)

	if err := store.Set(location, value); err != nil {
		return fmt.Errorf("writing %s: %w", location, err)
	}

	l.logger.Debug("mutation applied",
		"location", location,
		"prior_absent", !present,
		"new", value.Display())
	return nil
}

// ReplayReverse undoes every recorded mutation, newest first.
//
// # Description
//
// Each entry restores its prior value, or deletes the location when the
// prior state was absent. Restore attempts are independent: a failure is
// logged and collected, and the remaining entries are still processed,
// because the store may already have advanced past an entry written by
// another actor. The sequence is cleared only after every entry has been
// attempted.
//
// # Outputs
//
//   - *PartialRollbackError: nil when every entry restored cleanly,
//     otherwise the per-entry failure set.
func (l *Ledger) ReplayReverse(store gateway.ConfigStore) *PartialRollbackError {
	var failures []EntryFailure

	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]

		var err error
		if rec.PriorAbsent {
			err = store.Delete(rec.Location)
		} else {
			err = store.Set(rec.Location, rec.Prior)
		}
		if err != nil {
			l.logger.Warn("failed to restore ledger entry",
				"location", rec.Location,
				"prior_absent", rec.PriorAbsent,
				"error", err)
			failures = append(failures, EntryFailure{Location: rec.Location, Err: err})
		}
	}

	l.records = nil

	if len(failures) > 0 {
		return &PartialRollbackError{Failures: failures}
	}
	return nil
}

// Len returns the number of recorded mutations.
func (l *Ledger) Len() int { return len(l.records) }

// Records returns a copy of the sequence in application order.
func (l *Ledger) Records() []MutationRecord {
	out := make([]MutationRecord, len(l.records))
	copy(out, l.records)
	return out
}
