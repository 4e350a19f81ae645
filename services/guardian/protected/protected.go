// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protected holds the engine's hard safety boundary: resources it
// will never mutate and verifies by hash.
//
// The protected set is compiled-in policy, not runtime configuration. No
// caller configuration can pause a protected service or write under a
// protected subtree; the engine checks this set itself rather than trusting
// its callers.
package protected

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
)

// AbsentHash marks a protected path that did not exist at capture time.
// A path that was absent and still is has not drifted.
const AbsentHash = "absent"

// Policy is one protected-resource set. The engine uses Default; tests
// build their own to point at temp files.
type Policy struct {
	// Services are service names the engine refuses to pause.
	Services []string

	// Paths are filesystem paths hash-verified on restore.
	Paths []string

	// Subtrees are configuration location prefixes the engine refuses
	// to mutate.
	Subtrees []string
}

// Default is the compiled-in policy: core connectivity, eventing, and
// security services, plus the security configuration subtree.
var Default = Policy{
	Services: []string{
		"RpcSs",
		"DcomLaunch",
		"EventLog",
		"Dnscache",
		"Dhcp",
		"Winmgmt",
		"WinDefend",
	},
	Paths: []string{
		`/boot/loader.conf`,
		`/etc/fstab`,
		`/etc/passwd`,
	},
	Subtrees: []string{
		`system\security`,
		`system\boot`,
	},
}

// ServiceSet returns the protected service names as a lookup set.
func (p Policy) ServiceSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Services))
	for _, s := range p.Services {
		set[s] = struct{}{}
	}
	return set
}

// CoversLocation reports whether a configuration location falls under a
// protected subtree.
func (p Policy) CoversLocation(location string) bool {
	for _, prefix := range p.Subtrees {
		if len(location) >= len(prefix) && location[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Violation is one protected resource whose hash no longer matches.
type Violation struct {
	Path     string
	Expected string
	Actual   string
}

// HashPaths hashes every path in the policy.
//
// A path that cannot be read is recorded as AbsentHash rather than failing:
// absence is itself an attestable state, and hashing must never block a
// snapshot from being taken.
func (p Policy) HashPaths() map[string]string {
	out := make(map[string]string, len(p.Paths))
	for _, path := range p.Paths {
		out[path] = hashFile(path)
	}
	return out
}

// VerifyPaths re-hashes the policy paths and compares against an expected
// map (typically taken from a snapshot). It returns the drift list sorted
// by path; it never errors, because a failed attestation is a finding to
// report, not a fault to propagate.
func (p Policy) VerifyPaths(expected map[string]string) []Violation {
	var violations []Violation
	for path, want := range expected {
		got := hashFile(path)
		if got != want {
			violations = append(violations, Violation{Path: path, Expected: want, Actual: got})
		}
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].Path < violations[j].Path })
	return violations
}

func hashFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return AbsentHash
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
