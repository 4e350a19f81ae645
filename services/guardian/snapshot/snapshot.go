// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot captures and persists point-in-time system state.
//
// One snapshot is one JSON file under a per-session backup directory, plus
// an entry in a BadgerDB catalog used for fast newest-first scans. Snapshot
// files are written once and never rewritten; restore reads them.
package snapshot

import (
	"time"

	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
	"github.com/AleutianAI/sysrestore/services/guardian/svcstate"
)

// FormatVersion is written into every snapshot file. Readers tolerate
// unknown fields, so bumping this is only needed for incompatible changes.
const FormatVersion = 1

// Snapshot is an immutable capture of configuration, service, and network
// state, bound to the machine it was taken on by its fingerprint.
type Snapshot struct {
	// ID uniquely identifies the snapshot (UUID string).
	ID string `json:"id"`

	// CreatedAt is the capture time.
	CreatedAt time.Time `json:"created_at"`

	// Label is the free-text operation label given at capture time.
	Label string `json:"label"`

	// Fingerprint is the machine identity at capture time. Restore is
	// refused when it no longer validates.
	Fingerprint string `json:"fingerprint"`

	// ConfigExport is the captured configuration subset, keyed by
	// location.
	ConfigExport map[string]gateway.ConfigValue `json:"config_export"`

	// ServiceStates are the service records tracked at capture time.
	ServiceStates []svcstate.ServiceStateRecord `json:"service_states"`

	// NetworkState is the opaque network settings blob.
	NetworkState []byte `json:"network_state,omitempty"`

	// ProtectedHashes maps protected resource paths to their content
	// hashes at capture time.
	ProtectedHashes map[string]string `json:"protected_hashes"`

	// FormatVersion identifies the file layout.
	FormatVersion int `json:"format_version"`
}
