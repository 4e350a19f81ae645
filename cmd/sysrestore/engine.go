// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/AleutianAI/sysrestore/services/guardian/fingerprint"
	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
	"github.com/AleutianAI/sysrestore/services/guardian/protected"
	"github.com/AleutianAI/sysrestore/services/guardian/snapshot"
	"github.com/AleutianAI/sysrestore/services/guardian/transaction"
)

// engine bundles the wired transaction stack for one CLI invocation.
type engine struct {
	gateway *gateway.FileGateway
	fp      *fingerprint.Generator
	store   *snapshot.Store
	manager *transaction.Manager
}

// buildEngine wires the gateway, fingerprint generator, snapshot store,
// and transaction manager from the resolved configuration.
func buildEngine() (*engine, error) {
	gw, err := gateway.NewFileGateway(expandHome(gatewayDir))
	if err != nil {
		return nil, fmt.Errorf("opening gateway: %w", err)
	}

	fp := fingerprint.New(logger.Slog())

	store, err := snapshot.NewStore(cfg.Backup.ToSnapshotConfig(), gw, fp, protected.Default, logger.Slog())
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}

	mgr, err := transaction.NewManager(transaction.Config{
		StateDir:       cfg.Transaction.StateDirPath(),
		Service:        cfg.Service.ToServiceConfig(),
		CleanupOnInit:  cfg.Transaction.CleanupOnInit,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
		TracingEnabled: cfg.Observability.TracingEnabled,
	}, gw, fp, store, logger.Slog())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating transaction manager: %w", err)
	}

	return &engine{gateway: gw, fp: fp, store: store, manager: mgr}, nil
}

// close releases the engine's resources in dependency order.
func (e *engine) close() {
	_ = e.manager.Close()
	_ = e.store.Close()
}

// expandHome expands a leading ~ in CLI flag paths.
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
