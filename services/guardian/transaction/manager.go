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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/sysrestore/services/guardian/fingerprint"
	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
	"github.com/AleutianAI/sysrestore/services/guardian/ledger"
	"github.com/AleutianAI/sysrestore/services/guardian/protected"
	"github.com/AleutianAI/sysrestore/services/guardian/snapshot"
	"github.com/AleutianAI/sysrestore/services/guardian/svcstate"
)

// Config controls Manager behavior.
type Config struct {
	// StateDir is where in-flight transaction state is persisted for
	// crash recovery. Required.
	StateDir string

	// Service configures pause/resume timing.
	Service svcstate.Config

	// CleanupOnInit rolls back transactions left behind by a crashed
	// prior session.
	CleanupOnInit bool

	// MetricsEnabled controls metric recording.
	MetricsEnabled bool

	// TracingEnabled controls span creation.
	TracingEnabled bool
}

// Manager orchestrates reversible system-configuration transactions.
//
// # Description
//
// Begin captures a snapshot, ApplyBatch applies a mutation batch with
// every entry backed up before it is written, Commit keeps the result,
// and Revert or a batch failure replays the ledger in reverse and
// resumes paused services. Restore replays a full snapshot after a
// fingerprint check. The configuration store, service control manager,
// and network stack are process-wide shared resources with no native
// isolation, so every mutating operation is serialized behind one
// mutex; automatic recovery goes through the same lock as manual
// transactions and can never interleave with them.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
// Only one transaction may be active at a time.
//
// # Nested Transactions
//
// Nested transactions are NOT supported. Calling Begin() while a
// transaction is active returns ErrTransactionActive.
type Manager struct {
	config            Config
	gw                gateway.SystemResourceGateway
	fp                *fingerprint.Generator
	store             *snapshot.Store
	controller        *svcstate.Controller
	policy            protected.Policy
	activeTransaction *Transaction
	activeLedger      *ledger.Ledger
	mu                sync.Mutex
	logger            *slog.Logger
	tracer            *Tracer
}

// NewManager creates a transaction manager.
//
// # Description
//
// The protected-resource policy is compiled in: services and locations
// named by it are refused regardless of caller configuration. If
// CleanupOnInit is set, transactions persisted by a crashed prior
// session are rolled back before the manager is returned.
//
// # Inputs
//
//   - config: Manager configuration. StateDir is required.
//   - gw: Gateway to the configuration store, service manager, and
//     network stack.
//   - fp: Fingerprint generator gating restore eligibility.
//   - store: Snapshot store used by Begin and Restore.
//   - logger: Base logger. Uses slog.Default() if nil.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager.
//   - error: Non-nil if setup fails.
func NewManager(config Config, gw gateway.SystemResourceGateway, fp *fingerprint.Generator, store *snapshot.Store, logger *slog.Logger) (*Manager, error) {
	if config.StateDir == "" {
		return nil, fmt.Errorf("StateDir is required")
	}
	config.Service.ApplyDefaults()

	if err := os.MkdirAll(config.StateDir, 0750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transaction.Manager")

	SetMetricsEnabled(config.MetricsEnabled)
	tracer := NewTracer(logger, config.TracingEnabled)

	policy := protected.Default
	controller := svcstate.NewController(gw.Services(), policy.ServiceSet(), config.Service, logger)

	m := &Manager{
		config:     config,
		gw:         gw,
		fp:         fp,
		store:      store,
		controller: controller,
		policy:     policy,
		logger:     logger,
		tracer:     tracer,
	}

	if config.CleanupOnInit {
		if err := m.cleanupStale(context.Background()); err != nil {
			m.logger.Warn("failed to cleanup stale transactions",
				"error", err)
		}
	}

	return m, nil
}

// Begin starts a new transaction by capturing a snapshot.
//
// # Description
//
// Captures the current configuration, service, network, and
// protected-hash state as the transaction's restore point. The
// transaction enters Pending; a mutation batch may then be applied.
//
// # Inputs
//
//   - ctx: Context for timeout and cancellation.
//   - label: Free-text operation label stored on the snapshot.
//
// # Outputs
//
//   - *Transaction: The pending transaction.
//   - error: ErrTransactionActive if a transaction is already in
//     progress, or snapshot capture errors.
//
// # Example
//
//	tx, err := manager.Begin(ctx, "profile-A")
//	if err != nil {
//	    return err
//	}
//	if _, err := manager.ApplyBatch(ctx, batch); err != nil {
//	    return err // already rolled back
//	}
//	manager.Commit(ctx)
func (m *Manager) Begin(ctx context.Context, label string) (tx *Transaction, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartBegin(ctx, label)
	defer func() { m.tracer.EndBegin(span, tx, err) }()

	logger := LoggerWithTrace(ctx, m.logger)

	// Registered before the recovery defer so it observes the err a
	// recovered panic sets.
	defer func() {
		recordBegin(ctx, err == nil)
		if err == nil {
			incActive(ctx)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Begin: %v", r)
			logger.Error("panic in Begin",
				"panic", r,
				"label", label)
		}
	}()

	if m.activeTransaction != nil && !m.activeTransaction.Status.Terminal() {
		return nil, ErrTransactionActive
	}

	snap, err := m.store.Create(ctx, label, nil)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}

	tx = &Transaction{
		ID:         uuid.New().String(),
		Label:      label,
		SnapshotID: snap.ID,
		StartedAt:  time.Now(),
		Status:     StatusPending,
	}

	if err := m.persistTransaction(tx); err != nil {
		logger.Warn("failed to persist transaction state",
			"tx_id", tx.ID,
			"error", err)
	}

	m.activeTransaction = tx
	m.activeLedger = ledger.New(m.logger)

	logger.Info("transaction started",
		"tx_id", tx.ID,
		"label", label,
		"snapshot_id", snap.ID)

	return tx, nil
}

// ApplyBatch applies a mutation batch to the pending transaction.
//
// # Description
//
// Service pauses run first, then configuration mutations; each
// mutation is recorded in the ledger before the underlying write.
// The first failure anywhere, including caller cancellation observed
// between steps, rolls the whole batch back: the ledger is replayed
// in reverse, paused services are resumed, and the transaction ends
// Failed with the original cause surfaced to the caller. With no
// failure the transaction becomes Active.
//
// # Inputs
//
//   - ctx: Cancellation is honored between steps only, never inside a
//     single configuration write.
//   - batch: Service pauses and mutations to apply.
//
// # Outputs
//
//   - *Result: Outcome, including rollback warnings on failure.
//   - error: ErrNoTransaction, ErrNotPending, or the first step
//     failure (wrapped; rollback already performed).
func (m *Manager) ApplyBatch(ctx context.Context, batch Batch) (result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil || m.activeTransaction.Status.Terminal() {
		return nil, ErrNoTransaction
	}

	tx := m.activeTransaction

	ctx, span := m.tracer.StartApply(ctx, tx, len(batch.Mutations), len(batch.ServicePauses))
	defer func() { m.tracer.EndApply(span, result, err) }()

	logger := LoggerWithTrace(ctx, m.logger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in ApplyBatch: %v", r)
			logger.Error("panic in ApplyBatch",
				"panic", r,
				"tx_id", tx.ID)
		}
	}()

	if tx.Status != StatusPending {
		return nil, ErrNotPending
	}

	stepErr := m.applySteps(ctx, tx, batch, logger)
	if stepErr != nil {
		// Rollback runs on a background context so cancellation of the
		// caller's context cannot abort it.
		warnings := m.rollbackInternal(context.Background(), tx, m.activeLedger,
			stepErr.Error(), StatusFailed)
		tx.Error = stepErr.Error()

		result = &Result{
			TransactionID:    tx.ID,
			Status:           StatusFailed,
			Duration:         tx.Duration(),
			MutationsApplied: 0,
			RollbackReason:   stepErr.Error(),
			Warnings:         warnings,
		}
		recordRollback(ctx, tx.Duration(), tx.MutationCount(), "apply_failure")
		decActive(ctx)
		return result, fmt.Errorf("applying batch: %w", stepErr)
	}

	m.tracer.RecordStateTransition(ctx, tx.ID, StatusPending, StatusActive, tx.Duration())
	tx.Status = StatusActive
	if err := m.persistTransaction(tx); err != nil {
		logger.Warn("failed to persist transaction state",
			"tx_id", tx.ID,
			"error", err)
	}

	result = &Result{
		TransactionID:    tx.ID,
		Status:           StatusActive,
		Duration:         tx.Duration(),
		MutationsApplied: len(tx.Records),
		ServicesPaused:   len(tx.ServiceRecords),
	}
	recordApply(ctx, len(tx.Records), true)

	logger.Info("batch applied",
		"tx_id", tx.ID,
		"mutations", len(tx.Records),
		"services_paused", len(tx.ServiceRecords))

	return result, nil
}

// applySteps walks the batch, returning the first failure. The ledger
// and tx records always reflect everything attempted so far, so the
// caller can roll back from any point.
func (m *Manager) applySteps(ctx context.Context, tx *Transaction, batch Batch, logger *slog.Logger) error {
	for _, name := range batch.ServicePauses {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before pausing %q: %w", name, err)
		}

		record, skipped, err := m.controller.Pause(ctx, name)
		if err != nil {
			return fmt.Errorf("pausing service %q: %w", name, err)
		}
		if skipped {
			logger.Debug("service pause skipped", "service", name)
			continue
		}

		tx.ServiceRecords = append(tx.ServiceRecords, *record)
		if err := m.persistTransaction(tx); err != nil {
			logger.Warn("failed to persist transaction state",
				"tx_id", tx.ID,
				"error", err)
		}
	}

	configStore := m.gw.Config()
	for _, mut := range batch.Mutations {
		if err := ctx.Err(); err != nil {
			tx.Records = m.activeLedger.Records()
			return fmt.Errorf("cancelled before mutating %q: %w", mut.Location, err)
		}

		if m.policy.CoversLocation(mut.Location) {
			return fmt.Errorf("%w: %s", ErrProtectedLocation, mut.Location)
		}

		err := m.activeLedger.Apply(configStore, mut.Location, mut.Value)
		tx.Records = m.activeLedger.Records()
		if err != nil {
			return fmt.Errorf("mutating %q: %w", mut.Location, err)
		}

		if err := m.persistTransaction(tx); err != nil {
			logger.Warn("failed to persist transaction state",
				"tx_id", tx.ID,
				"error", err)
		}
	}

	return nil
}

// Commit finalizes the transaction, keeping all mutations.
//
// # Description
//
// Moves Active to Committed. The crash-recovery state file is removed;
// the snapshot captured at Begin remains available for a later manual
// Revert or Restore.
//
// # Outputs
//
//   - *Result: Information about the committed transaction.
//   - error: ErrNoTransaction if none is active, ErrNotRevertible if
//     the transaction is not Active.
func (m *Manager) Commit(ctx context.Context) (result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil || m.activeTransaction.Status.Terminal() {
		return nil, ErrNoTransaction
	}

	tx := m.activeTransaction

	ctx, span := m.tracer.StartCommit(ctx, tx)
	defer func() { m.tracer.EndCommit(span, result, err) }()

	logger := LoggerWithTrace(ctx, m.logger)

	// Registered before the recovery defer so it observes the err a
	// recovered panic sets.
	defer func() {
		recordCommit(ctx, tx.Duration(), tx.MutationCount(), err == nil)
		if err == nil {
			decActive(ctx)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Commit: %v", r)
			logger.Error("panic in Commit", "panic", r)
		}
	}()

	if tx.Status != StatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrNotRevertible, tx.Status)
	}

	m.tracer.RecordStateTransition(ctx, tx.ID, StatusActive, StatusCommitted, tx.Duration())
	tx.Status = StatusCommitted

	_ = m.removePersistedTransaction(tx.ID)

	result = &Result{
		TransactionID:    tx.ID,
		Status:           StatusCommitted,
		Duration:         tx.Duration(),
		MutationsApplied: tx.MutationCount(),
		ServicesPaused:   len(tx.ServiceRecords),
	}

	logger.Info("transaction committed",
		"tx_id", tx.ID,
		"duration", result.Duration,
		"mutations", result.MutationsApplied)

	return result, nil
}

// Revert undoes the transaction's mutations.
//
// # Description
//
// Callable from Active or Committed. Replays the ledger newest-first,
// restoring prior values and deleting locations that were absent, then
// resumes paused services. Individual restore failures are collected
// as warnings rather than aborting the sequence; a non-empty warning
// set is surfaced on the Result.
//
// # Inputs
//
//   - ctx: Context for tracing. The rollback itself runs on a
//     background context so it cannot be cancelled mid-way.
//   - reason: Human-readable reason, for logging.
//
// # Outputs
//
//   - *Result: Outcome including any per-entry warnings.
//   - error: ErrNoTransaction or ErrNotRevertible.
func (m *Manager) Revert(ctx context.Context, reason string) (result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil {
		return nil, ErrNoTransaction
	}

	tx := m.activeTransaction

	ctx, span := m.tracer.StartRevert(ctx, tx, reason)
	defer func() { m.tracer.EndRevert(span, result, err) }()

	defer func() {
		if result != nil {
			recordRollback(ctx, result.Duration, result.MutationsApplied, "revert")
			decActive(ctx)
		}
	}()

	if tx.Status != StatusActive && tx.Status != StatusCommitted {
		return nil, fmt.Errorf("%w: status %s", ErrNotRevertible, tx.Status)
	}

	mutations := tx.MutationCount()
	warnings := m.rollbackInternal(context.Background(), tx, m.activeLedger, reason, StatusReverted)

	result = &Result{
		TransactionID:    tx.ID,
		Status:           StatusReverted,
		Duration:         tx.Duration(),
		MutationsApplied: mutations,
		RollbackReason:   reason,
		Warnings:         warnings,
	}
	return result, nil
}

// rollbackInternal replays the ledger in reverse and resumes paused
// services, ending in the given terminal status. Must be called with
// the lock held. Per-entry failures are returned as warnings, never as
// an error: dropping remaining entries would be worse than reporting.
func (m *Manager) rollbackInternal(ctx context.Context, tx *Transaction, lgr *ledger.Ledger, reason string, terminal Status) []string {
	logger := LoggerWithTrace(ctx, m.logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("CRITICAL: panic during rollback",
				"panic", r,
				"tx_id", tx.ID)
		}
	}()

	prevStatus := tx.Status
	tx.Status = StatusRollingBack
	tx.RollbackReason = reason
	m.tracer.RecordStateTransition(ctx, tx.ID, prevStatus, StatusRollingBack, tx.Duration())

	logger.Warn("rolling back transaction",
		"tx_id", tx.ID,
		"reason", reason,
		"mutations", tx.MutationCount(),
		"services_paused", len(tx.ServiceRecords))

	var warnings []string

	if lgr != nil {
		if perr := lgr.ReplayReverse(m.gw.Config()); perr != nil {
			for _, f := range perr.Failures {
				warnings = append(warnings,
					fmt.Sprintf("could not restore %s: %v", f.Location, f.Err))
			}
			logger.Error("partial rollback, some entries could not be restored",
				"tx_id", tx.ID,
				"failed_entries", len(perr.Failures))
		}
		tx.Records = lgr.Records()
	}

	if rerr := m.controller.ResumeAll(ctx, tx.ServiceRecords); rerr != nil {
		for _, f := range rerr.Failures {
			warnings = append(warnings,
				fmt.Sprintf("could not resume service %s: %v", f.Name, f.Err))
		}
	}
	tx.ServiceRecords = nil

	m.tracer.RecordStateTransition(ctx, tx.ID, StatusRollingBack, terminal, 0)
	tx.Status = terminal

	_ = m.removePersistedTransaction(tx.ID)

	logger.Info("transaction rolled back",
		"tx_id", tx.ID,
		"reason", reason,
		"terminal_status", terminal,
		"warnings", len(warnings))

	return warnings
}

// Restore replays a persisted snapshot onto the machine.
//
// # Description
//
// Heavier than Revert: it rewrites the snapshot's entire captured
// configuration subset, restarts services that were running at capture
// time, and reapplies the network capture. The snapshot's fingerprint
// is validated first and the restore refuses before any write if it
// does not match this machine. After the writes, protected-resource
// hashes are re-verified; drift there is logged and reported as
// warnings, not thrown.
//
// # Inputs
//
//   - ctx: Context for cancellation between phases.
//   - snapshotID: Identifier returned by a prior snapshot creation.
//
// # Outputs
//
//   - *Result: Outcome including per-entry and attestation warnings.
//   - error: ErrTransactionActive, ErrSnapshotNotFound,
//     ErrIntegrityViolation, or a phase failure.
func (m *Manager) Restore(ctx context.Context, snapshotID string) (result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoreLocked(ctx, snapshotID)
}

// RestoreLatest restores the newest snapshot whose fingerprint still
// validates against this machine. Used by automatic recovery.
//
// # Outputs
//
//   - *Result: Nil with nil error when no valid snapshot exists; the
//     machine is deliberately left untouched in that case.
//   - error: As for Restore.
func (m *Manager) RestoreLatest(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.store.FindLatestValid(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding latest valid snapshot: %w", err)
	}
	if snap == nil {
		m.logger.Info("no valid snapshot for this machine, leaving state untouched")
		return nil, nil
	}

	return m.restoreLocked(ctx, snap.ID)
}

// restoreLocked performs the restore. Must be called with the lock held.
func (m *Manager) restoreLocked(ctx context.Context, snapshotID string) (result *Result, err error) {
	if m.activeTransaction != nil && !m.activeTransaction.Status.Terminal() {
		return nil, ErrTransactionActive
	}

	ctx, span := m.tracer.StartRestore(ctx, snapshotID)
	defer func() { m.tracer.EndRestore(span, result, err) }()

	logger := LoggerWithTrace(ctx, m.logger)

	// Registered before the recovery defer so it observes the err a
	// recovered panic sets.
	defer func() { recordRestore(ctx, err == nil) }()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Restore: %v", r)
			logger.Error("panic in Restore", "panic", r)
		}
	}()

	snap, err := m.store.Load(snapshotID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}

	// Fail closed: nothing is written unless the snapshot was captured
	// on this machine.
	if !m.fp.Validate(snap.Fingerprint) {
		recordIntegrityViolation(ctx)
		logger.Error("refusing restore, snapshot fingerprint does not match this machine",
			"snapshot_id", snap.ID)
		return nil, fmt.Errorf("restoring snapshot %s: %w", snap.ID, ErrIntegrityViolation)
	}

	start := time.Now()
	logger.Info("restoring snapshot",
		"snapshot_id", snap.ID,
		"label", snap.Label,
		"config_entries", len(snap.ConfigExport))

	var warnings []string

	configStore := m.gw.Config()
	for location, value := range snap.ConfigExport {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cancelled during config restore: %w", err)
		}
		if err := configStore.Set(location, value); err != nil {
			warnings = append(warnings,
				fmt.Sprintf("could not restore %s: %v", location, err))
		}
	}

	if rerr := m.controller.ResumeAll(ctx, snap.ServiceStates); rerr != nil {
		for _, f := range rerr.Failures {
			warnings = append(warnings,
				fmt.Sprintf("could not restore service %s: %v", f.Name, f.Err))
		}
	}

	if len(snap.NetworkState) > 0 {
		if err := m.gw.Network().Apply(snap.NetworkState); err != nil {
			warnings = append(warnings,
				fmt.Sprintf("could not reapply network configuration: %v", err))
		}
	}

	// Attestation after the writes: protected files are verified, not
	// restored. Drift is a data point for the operator.
	for _, v := range m.policy.VerifyPaths(snap.ProtectedHashes) {
		logger.Error("protected resource hash changed since snapshot",
			"path", v.Path,
			"expected", v.Expected,
			"actual", v.Actual)
		warnings = append(warnings,
			fmt.Sprintf("protected resource drift: %s", v.Path))
	}

	result = &Result{
		TransactionID:    snap.ID,
		Status:           StatusReverted,
		Duration:         time.Since(start),
		MutationsApplied: len(snap.ConfigExport),
		Warnings:         warnings,
	}

	logger.Info("snapshot restored",
		"snapshot_id", snap.ID,
		"duration", result.Duration,
		"warnings", len(warnings))

	return result, nil
}

// Active returns a copy of the current transaction, or nil if none.
func (m *Manager) Active() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil {
		return nil
	}

	tx := *m.activeTransaction
	tx.Records = append([]ledger.MutationRecord(nil), m.activeTransaction.Records...)
	tx.ServiceRecords = append([]svcstate.ServiceStateRecord(nil), m.activeTransaction.ServiceRecords...)
	return &tx
}

// IsActive returns true if a non-terminal transaction exists.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeTransaction != nil && !m.activeTransaction.Status.Terminal()
}

// Close cleans up the manager. A transaction still in flight is rolled
// back first.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction != nil && !m.activeTransaction.Status.Terminal() {
		m.logger.Warn("closing manager with active transaction, rolling back",
			"tx_id", m.activeTransaction.ID)
		m.rollbackInternal(context.Background(), m.activeTransaction, m.activeLedger,
			"manager closed", StatusFailed)
	}
	return nil
}

// =============================================================================
// Persistence for Crash Recovery
// =============================================================================

// transactionStatePath returns the path to the transaction state file.
func (m *Manager) transactionStatePath(txID string) string {
	return filepath.Join(m.config.StateDir, txID+".json")
}

// persistTransaction saves the transaction state for crash recovery.
func (m *Manager) persistTransaction(tx *Transaction) error {
	data, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling transaction: %w", err)
	}

	if err := os.MkdirAll(m.config.StateDir, 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	path := m.transactionStatePath(tx.ID)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing transaction state: %w", err)
	}

	return nil
}

// removePersistedTransaction removes the persisted transaction state.
func (m *Manager) removePersistedTransaction(txID string) error {
	path := m.transactionStatePath(txID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing transaction state: %w", err)
	}
	return nil
}

// cleanupStale rolls back transactions left behind by a crashed session.
func (m *Manager) cleanupStale(ctx context.Context) error {
	entries, err := os.ReadDir(m.config.StateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading state directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(m.config.StateDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("failed to read stale transaction", "path", path, "error", err)
			continue
		}

		var tx Transaction
		if err := json.Unmarshal(data, &tx); err != nil {
			m.logger.Warn("failed to parse stale transaction", "path", path, "error", err)
			_ = os.Remove(path)
			continue
		}

		m.logger.Info("found stale transaction, rolling back",
			"tx_id", tx.ID,
			"started_at", tx.StartedAt.Format(time.RFC3339),
			"mutations", len(tx.Records))

		stale := ledger.FromRecords(tx.Records, m.logger)
		m.rollbackInternal(ctx, &tx, stale, "stale transaction cleanup", StatusFailed)

		// rollbackInternal removes the state file keyed by tx ID; remove
		// by path too in case the file name drifted.
		_ = os.Remove(path)
	}

	return nil
}
