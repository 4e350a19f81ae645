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
	"errors"
	"time"

	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
	"github.com/AleutianAI/sysrestore/services/guardian/ledger"
	"github.com/AleutianAI/sysrestore/services/guardian/svcstate"
)

// Status represents the lifecycle state of a transaction.
type Status string

const (
	// StatusPending: snapshot taken, mutation batch not yet applied.
	StatusPending Status = "PENDING"

	// StatusActive: batch applied successfully, awaiting commit or revert.
	StatusActive Status = "ACTIVE"

	// StatusRollingBack: ledger replay and service resume in progress.
	StatusRollingBack Status = "ROLLING_BACK"

	// StatusCommitted: mutations kept permanently. Terminal.
	StatusCommitted Status = "COMMITTED"

	// StatusFailed: batch failed and was fully reverted. Terminal.
	StatusFailed Status = "FAILED"

	// StatusReverted: explicitly reverted after Active or Committed. Terminal.
	StatusReverted Status = "REVERTED"
)

// Terminal reports whether the status is a resting state that permits a
// new transaction to begin.
func (s Status) Terminal() bool {
	switch s {
	case StatusCommitted, StatusFailed, StatusReverted:
		return true
	}
	return false
}

// Sentinel errors returned by Manager operations.
var (
	// ErrTransactionActive is returned by Begin when a transaction is
	// already in progress. Nested transactions are not supported.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNoTransaction is returned when an operation requires an active
	// transaction and none exists.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrNotPending is returned by ApplyBatch outside the Pending state.
	ErrNotPending = errors.New("transaction is not pending")

	// ErrNotRevertible is returned by Revert when the transaction is in
	// neither Active nor Committed state.
	ErrNotRevertible = errors.New("transaction is not active or committed")

	// ErrIntegrityViolation is returned by Restore when the snapshot's
	// fingerprint does not validate against this machine. The restore
	// refuses before writing anything.
	ErrIntegrityViolation = errors.New("fingerprint mismatch, snapshot was captured on different hardware")

	// ErrSnapshotNotFound is returned by Restore when no persisted
	// snapshot matches the requested identifier.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrProtectedLocation is returned when a batch mutation targets a
	// location covered by the protected-resource policy.
	ErrProtectedLocation = errors.New("mutation targets a protected location")
)

// Mutation is one requested configuration write.
type Mutation struct {
	Location string              `json:"location"`
	Value    gateway.ConfigValue `json:"value"`
}

// Batch is the unit of work applied inside a transaction. Service
// pauses run before mutations so configuration is not rewritten under a
// running consumer.
type Batch struct {
	ServicePauses []string   `json:"service_pauses,omitempty"`
	Mutations     []Mutation `json:"mutations,omitempty"`
}

// Transaction is one reversible unit of system reconfiguration.
//
// # Description
//
// Holds the snapshot identifier captured at Begin time plus the
// mutation records and service state records accumulated while the
// batch was applied. Owned by the Manager for its entire lifetime and
// persisted as JSON only for crash recovery.
type Transaction struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	SnapshotID string    `json:"snapshot_id"`
	StartedAt  time.Time `json:"started_at"`
	Status     Status    `json:"status"`

	// Records mirrors the ledger contents for persistence. The live
	// ledger is authoritative while the process is running.
	Records []ledger.MutationRecord `json:"records,omitempty"`

	// ServiceRecords are the services paused for this transaction,
	// consumed when they are resumed.
	ServiceRecords []svcstate.ServiceStateRecord `json:"service_records,omitempty"`

	// Error holds the failure cause for StatusFailed.
	Error string `json:"error,omitempty"`

	// RollbackReason explains why a rollback ran.
	RollbackReason string `json:"rollback_reason,omitempty"`
}

// Duration returns how long the transaction has been running.
func (t *Transaction) Duration() time.Duration {
	return time.Since(t.StartedAt)
}

// MutationCount returns the number of recorded mutations.
func (t *Transaction) MutationCount() int {
	return len(t.Records)
}

// Result summarizes a completed Manager operation.
type Result struct {
	TransactionID    string        `json:"transaction_id"`
	Status           Status        `json:"status"`
	Duration         time.Duration `json:"duration"`
	MutationsApplied int           `json:"mutations_applied"`
	ServicesPaused   int           `json:"services_paused"`
	RollbackReason   string        `json:"rollback_reason,omitempty"`

	// Warnings collects non-fatal problems: ledger entries that could
	// not be restored, services that failed to resume, protected-hash
	// drift observed after a restore. A non-empty set must never be
	// reported as a clean success.
	Warnings []string `json:"warnings,omitempty"`
}
