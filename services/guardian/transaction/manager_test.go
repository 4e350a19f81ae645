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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sysrestore/services/guardian/fingerprint"
	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
	"github.com/AleutianAI/sysrestore/services/guardian/protected"
	"github.com/AleutianAI/sysrestore/services/guardian/snapshot"
	"github.com/AleutianAI/sysrestore/services/guardian/svcstate"
)

// rig assembles a manager over an in-memory gateway with mutable
// fingerprint signals, fast service timing, and a throwaway backup root.
type rig struct {
	manager *Manager
	gateway *gateway.MemGateway
	store   *snapshot.Store
	signals map[string]string
	dir     string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		gateway: gateway.NewMemGateway(),
		signals: map[string]string{"board_serial": "BRD-001"},
		dir:     t.TempDir(),
	}
	r.gateway.Seed(`tune\tcp\WindowScaling`, gateway.Dword(1))
	r.gateway.Seed(`tune\tcp\AckFrequency`, gateway.Dword(2))
	r.gateway.SetNetworkBlob([]byte(`{"dns":["10.0.0.1"]}`))

	r.buildManager(t, true)
	return r
}

// buildManager (re)creates the store and manager over the same backup
// root and state dir, so tests can simulate a process restart.
func (r *rig) buildManager(t *testing.T, cleanup bool) {
	t.Helper()

	gen := fingerprint.NewWithSources([]fingerprint.Source{
		{Name: "board_serial", Read: func() (string, error) {
			return r.signals["board_serial"], nil
		}},
	}, nil)

	store, err := snapshot.NewStore(snapshot.Config{
		BackupRoot:      filepath.Join(r.dir, "backups"),
		InMemoryCatalog: true,
	}, r.gateway, gen, protected.Policy{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	r.store = store

	manager, err := NewManager(Config{
		StateDir: filepath.Join(r.dir, "state"),
		Service: svcstate.Config{
			StopTimeout:  200 * time.Millisecond,
			PollInterval: time.Millisecond,
			SettleDelay:  time.Millisecond,
		},
		CleanupOnInit: cleanup,
	}, r.gateway, gen, store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	r.manager = manager
}

func TestBeginCreatesSnapshotAndPending(t *testing.T) {
	r := newRig(t)

	tx, err := r.manager.Begin(t.Context(), "profile-A")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tx.Status)
	assert.NotEmpty(t, tx.SnapshotID)
	assert.Equal(t, "profile-A", tx.Label)

	snap, err := r.store.Load(tx.SnapshotID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "profile-A", snap.Label)
	assert.True(t, r.manager.IsActive())
}

func TestBeginWhileActiveFails(t *testing.T) {
	r := newRig(t)

	_, err := r.manager.Begin(t.Context(), "first")
	require.NoError(t, err)

	_, err = r.manager.Begin(t.Context(), "second")
	assert.ErrorIs(t, err, ErrTransactionActive)
}

func TestApplyCommitKeepsMutations(t *testing.T) {
	r := newRig(t)
	r.gateway.AddService("Spooler", gateway.ServiceStatus{
		State: gateway.StateRunning, CanStop: true,
	})

	_, err := r.manager.Begin(t.Context(), "tune")
	require.NoError(t, err)

	result, err := r.manager.ApplyBatch(t.Context(), Batch{
		ServicePauses: []string{"Spooler"},
		Mutations: []Mutation{
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)},
			{Location: `tune\tcp\NewSetting`, Value: gateway.String("on")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, result.Status)
	assert.Equal(t, 2, result.MutationsApplied)
	assert.Equal(t, 1, result.ServicesPaused)
	assert.Equal(t, gateway.StateStopped, r.gateway.ServiceState("Spooler"))

	commitResult, err := r.manager.Commit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, commitResult.Status)
	assert.False(t, r.manager.IsActive())

	v, ok := r.gateway.Value(`tune\tcp\WindowScaling`)
	require.True(t, ok)
	assert.True(t, v.Equal(gateway.Dword(8)))

	// A new transaction may begin after commit.
	_, err = r.manager.Begin(t.Context(), "next")
	assert.NoError(t, err)
}

// Round-trip law: apply then revert returns the store to its exact
// pre-transaction state, including deleting previously absent locations.
func TestRevertRestoresPreTransactionState(t *testing.T) {
	r := newRig(t)

	before := r.gateway.ValueCount()

	_, err := r.manager.Begin(t.Context(), "roundtrip")
	require.NoError(t, err)

	_, err = r.manager.ApplyBatch(t.Context(), Batch{
		Mutations: []Mutation{
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)},
			{Location: `tune\tcp\BrandNew`, Value: gateway.Dword(5)},
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(3)},
		},
	})
	require.NoError(t, err)

	result, err := r.manager.Revert(t.Context(), "test revert")
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, result.Status)
	assert.Empty(t, result.Warnings)

	// Reverse replay restores the value from before the FIRST write,
	// not an intermediate one.
	v, ok := r.gateway.Value(`tune\tcp\WindowScaling`)
	require.True(t, ok)
	assert.True(t, v.Equal(gateway.Dword(1)))

	_, ok = r.gateway.Value(`tune\tcp\BrandNew`)
	assert.False(t, ok, "previously absent location must be deleted")
	assert.Equal(t, before, r.gateway.ValueCount())
}

func TestRevertAfterCommit(t *testing.T) {
	r := newRig(t)

	_, err := r.manager.Begin(t.Context(), "late regret")
	require.NoError(t, err)
	_, err = r.manager.ApplyBatch(t.Context(), Batch{
		Mutations: []Mutation{{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(9)}},
	})
	require.NoError(t, err)
	_, err = r.manager.Commit(t.Context())
	require.NoError(t, err)

	result, err := r.manager.Revert(t.Context(), "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, result.Status)

	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
}

func TestApplyBatchFailureRollsBackEverything(t *testing.T) {
	r := newRig(t)
	r.gateway.AddService("Spooler", gateway.ServiceStatus{
		State: gateway.StateRunning, CanStop: true,
	})

	_, err := r.manager.Begin(t.Context(), "profile-A")
	require.NoError(t, err)

	// Third configuration write fails.
	boom := errors.New("access denied")
	r.gateway.SetErrAt[3] = boom

	result, err := r.manager.ApplyBatch(t.Context(), Batch{
		ServicePauses: []string{"Spooler"},
		Mutations: []Mutation{
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)},
			{Location: `tune\tcp\BrandNew`, Value: gateway.Dword(5)},
			{Location: `tune\tcp\AckFrequency`, Value: gateway.Dword(7)},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "original cause must be preserved")
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)

	// Locations 1 and 2 restored; location 3 was never written.
	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
	_, ok := r.gateway.Value(`tune\tcp\BrandNew`)
	assert.False(t, ok)
	v, _ = r.gateway.Value(`tune\tcp\AckFrequency`)
	assert.True(t, v.Equal(gateway.Dword(2)))

	// Zero services left un-resumed.
	assert.Equal(t, gateway.StateRunning, r.gateway.ServiceState("Spooler"))
	active := r.manager.Active()
	require.NotNil(t, active)
	assert.Empty(t, active.ServiceRecords)
	assert.False(t, r.manager.IsActive())
}

func TestProtectedLocationRefused(t *testing.T) {
	r := newRig(t)

	_, err := r.manager.Begin(t.Context(), "overreach")
	require.NoError(t, err)

	_, err = r.manager.ApplyBatch(t.Context(), Batch{
		Mutations: []Mutation{
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)},
			{Location: `system\security\lsa`, Value: gateway.Dword(0)},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtectedLocation)

	// The first mutation was rolled back.
	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
}

func TestProtectedServiceNeverPaused(t *testing.T) {
	r := newRig(t)
	r.gateway.AddService("RpcSs", gateway.ServiceStatus{
		State: gateway.StateRunning, CanStop: true,
	})

	_, err := r.manager.Begin(t.Context(), "careful")
	require.NoError(t, err)

	result, err := r.manager.ApplyBatch(t.Context(), Batch{
		ServicePauses: []string{"RpcSs"},
	})
	require.NoError(t, err, "protected pause is a skip, not a failure")
	assert.Equal(t, 0, result.ServicesPaused)
	assert.Equal(t, gateway.StateRunning, r.gateway.ServiceState("RpcSs"))
}

func TestCancellationBetweenStepsRollsBack(t *testing.T) {
	r := newRig(t)

	_, err := r.manager.Begin(t.Context(), "cancelled")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	result, err := r.manager.ApplyBatch(ctx, Batch{
		Mutations: []Mutation{
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, result.Status)

	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)), "nothing may be written after cancellation")
}

func TestPartialRollbackSurfacesWarnings(t *testing.T) {
	r := newRig(t)

	_, err := r.manager.Begin(t.Context(), "sticky")
	require.NoError(t, err)
	_, err = r.manager.ApplyBatch(t.Context(), Batch{
		Mutations: []Mutation{
			{Location: `tune\tcp\BrandNew`, Value: gateway.Dword(5)},
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)},
		},
	})
	require.NoError(t, err)

	// The delete of the previously absent location fails during replay.
	r.gateway.DeleteErr[`tune\tcp\BrandNew`] = errors.New("held open")

	result, err := r.manager.Revert(t.Context(), "partial")
	require.NoError(t, err, "partial rollback is a warning set, not a failure")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], `tune\tcp\BrandNew`)

	// The other entry was still restored.
	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
}

func TestRestoreReplaysSnapshot(t *testing.T) {
	r := newRig(t)
	r.gateway.AddService("Spooler", gateway.ServiceStatus{
		State: gateway.StateRunning, CanStop: true,
	})

	tx, err := r.manager.Begin(t.Context(), "S0")
	require.NoError(t, err)
	_, err = r.manager.ApplyBatch(t.Context(), Batch{
		Mutations: []Mutation{{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)}},
	})
	require.NoError(t, err)
	_, err = r.manager.Commit(t.Context())
	require.NoError(t, err)

	// Drift happens after commit, outside any transaction.
	r.gateway.Seed(`tune\tcp\WindowScaling`, gateway.Dword(99))
	r.gateway.SetNetworkBlob([]byte(`{"dns":["9.9.9.9"]}`))

	result, err := r.manager.Restore(t.Context(), tx.SnapshotID)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	// Back to the values captured at Begin time.
	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
	require.NotEmpty(t, r.gateway.AppliedBlobs)
	assert.Equal(t, []byte(`{"dns":["10.0.0.1"]}`),
		r.gateway.AppliedBlobs[len(r.gateway.AppliedBlobs)-1])
}

func TestRestoreRefusesOnFingerprintMismatch(t *testing.T) {
	r := newRig(t)

	tx, err := r.manager.Begin(t.Context(), "S0")
	require.NoError(t, err)
	_, err = r.manager.Commit(t.Context())
	require.Error(t, err) // Pending cannot commit
	_, err = r.manager.Revert(t.Context(), "unwind")
	require.Error(t, err) // nor revert

	// End the pending transaction cleanly via an empty batch + commit.
	_, err = r.manager.ApplyBatch(t.Context(), Batch{})
	require.NoError(t, err)
	_, err = r.manager.Commit(t.Context())
	require.NoError(t, err)

	r.gateway.Seed(`tune\tcp\WindowScaling`, gateway.Dword(42))

	// Simulated motherboard swap.
	r.signals["board_serial"] = "BRD-SWAPPED"

	_, err = r.manager.Restore(t.Context(), tx.SnapshotID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityViolation)

	// Nothing was written.
	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(42)))
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	r := newRig(t)
	_, err := r.manager.Restore(t.Context(), "no-such-id")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRestoreLatestWithNoValidSnapshotIsNoOp(t *testing.T) {
	r := newRig(t)

	result, err := r.manager.RestoreLatest(t.Context())
	require.NoError(t, err)
	assert.Nil(t, result, "no snapshot means no restore, state untouched")

	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
}

func TestRestoreLatestSkipsForeignSnapshots(t *testing.T) {
	r := newRig(t)

	tx, err := r.manager.Begin(t.Context(), "ours")
	require.NoError(t, err)
	_, err = r.manager.ApplyBatch(t.Context(), Batch{})
	require.NoError(t, err)
	_, err = r.manager.Commit(t.Context())
	require.NoError(t, err)

	// A newer snapshot captured on different hardware.
	r.signals["board_serial"] = "BRD-OTHER"
	_, err = r.manager.Begin(t.Context(), "foreign")
	require.NoError(t, err)
	_, err = r.manager.ApplyBatch(t.Context(), Batch{})
	require.NoError(t, err)
	_, err = r.manager.Commit(t.Context())
	require.NoError(t, err)

	r.signals["board_serial"] = "BRD-001"
	r.gateway.Seed(`tune\tcp\WindowScaling`, gateway.Dword(77))

	result, err := r.manager.RestoreLatest(t.Context())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, tx.SnapshotID, result.TransactionID)

	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
}

func TestRestoreRefusedWhileTransactionActive(t *testing.T) {
	r := newRig(t)

	tx, err := r.manager.Begin(t.Context(), "busy")
	require.NoError(t, err)

	_, err = r.manager.Restore(t.Context(), tx.SnapshotID)
	assert.ErrorIs(t, err, ErrTransactionActive)
}

func TestCrashRecoveryRollsBackStaleTransaction(t *testing.T) {
	r := newRig(t)

	_, err := r.manager.Begin(t.Context(), "doomed")
	require.NoError(t, err)
	_, err = r.manager.ApplyBatch(t.Context(), Batch{
		Mutations: []Mutation{
			{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)},
			{Location: `tune\tcp\BrandNew`, Value: gateway.Dword(5)},
		},
	})
	require.NoError(t, err)

	// Process dies here: no Commit, no Close. A fresh manager over the
	// same state dir must roll the orphaned transaction back on init.
	r.manager.activeTransaction = nil
	r.manager.activeLedger = nil
	r.buildManager(t, true)

	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
	_, ok := r.gateway.Value(`tune\tcp\BrandNew`)
	assert.False(t, ok)
	assert.False(t, r.manager.IsActive())
}

func TestCloseRollsBackInFlightTransaction(t *testing.T) {
	r := newRig(t)

	_, err := r.manager.Begin(t.Context(), "interrupted")
	require.NoError(t, err)
	_, err = r.manager.ApplyBatch(t.Context(), Batch{
		Mutations: []Mutation{{Location: `tune\tcp\WindowScaling`, Value: gateway.Dword(8)}},
	})
	require.NoError(t, err)

	require.NoError(t, r.manager.Close())

	v, _ := r.gateway.Value(`tune\tcp\WindowScaling`)
	assert.True(t, v.Equal(gateway.Dword(1)))
	assert.False(t, r.manager.IsActive())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCommitted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusReverted.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusRollingBack.Terminal())
}
