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
	"path/filepath"

	"github.com/spf13/cobra"
)

var revertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Roll back a transaction left behind by a crashed run",
	Long: `Scans the transaction state directory for persisted in-flight
transactions and replays their ledgers in reverse, restoring prior
values and resuming paused services. A clean state directory is a
no-op.`,
	Args: cobra.NoArgs,
	RunE: runRevert,
}

func runRevert(cmd *cobra.Command, args []string) error {
	pending, err := pendingTransactionStates(cfg.Transaction.StateDirPath())
	if err != nil {
		return fmt.Errorf("scanning state directory: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println("no pending transaction to revert")
		return nil
	}

	for _, id := range pending {
		fmt.Printf("pending transaction %s\n", id)
	}

	// Stale-state rollback runs during manager construction.
	cfg.Transaction.CleanupOnInit = true
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	remaining, err := pendingTransactionStates(cfg.Transaction.StateDirPath())
	if err != nil {
		return fmt.Errorf("scanning state directory: %w", err)
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%d transaction(s) could not be reverted", len(remaining))
	}

	fmt.Printf("reverted %d transaction(s)\n", len(pending))
	return nil
}

// pendingTransactionStates lists the IDs of persisted transaction state
// files in dir. A missing directory means nothing is pending.
func pendingTransactionStates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		ids = append(ids, entry.Name()[:len(entry.Name())-len(".json")])
	}
	return ids, nil
}
