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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceSet(t *testing.T) {
	set := Default.ServiceSet()
	_, ok := set["RpcSs"]
	assert.True(t, ok)
	_, ok = set["Spooler"]
	assert.False(t, ok)
}

func TestCoversLocation(t *testing.T) {
	assert.True(t, Default.CoversLocation(`system\security\lsa\LimitBlankPasswordUse`))
	assert.False(t, Default.CoversLocation(`tune\tcp\WindowScaling`))
}

func TestHashAndVerifyPaths(t *testing.T) {
	dir := t.TempDir()
	stable := filepath.Join(dir, "stable.conf")
	drifting := filepath.Join(dir, "drifting.conf")
	missing := filepath.Join(dir, "missing.conf")
	require.NoError(t, os.WriteFile(stable, []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(drifting, []byte("v1"), 0o644))

	policy := Policy{Paths: []string{stable, drifting, missing}}
	baseline := policy.HashPaths()

	assert.Equal(t, AbsentHash, baseline[missing])
	assert.NotEqual(t, AbsentHash, baseline[stable])

	// No drift yet.
	assert.Empty(t, policy.VerifyPaths(baseline))

	// Tamper with one file.
	require.NoError(t, os.WriteFile(drifting, []byte("v2"), 0o644))
	violations := policy.VerifyPaths(baseline)
	require.Len(t, violations, 1)
	assert.Equal(t, drifting, violations[0].Path)

	// A missing file appearing is also drift.
	require.NoError(t, os.WriteFile(missing, []byte("surprise"), 0o644))
	violations = policy.VerifyPaths(baseline)
	require.Len(t, violations, 2)
}

func TestWatcherFlagsDrift(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.conf")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	w, err := NewWatcher(Policy{Paths: []string{target}}, nil)
	require.NoError(t, err)

	drifted := make(chan string, 1)
	w.OnDrift = func(path string) {
		select {
		case drifted <- path:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(target, []byte("v2"), 0o644))

	select {
	case path := <-drifted:
		assert.Equal(t, target, path)
	case <-time.After(2 * time.Second):
		t.Fatal("drift event not observed")
	}
	assert.GreaterOrEqual(t, w.DriftCount(), int64(1))
}
