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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sysrestore/services/guardian/transaction"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [snapshot-id|latest]",
	Short: "Restore the machine to a snapshot",
	Long: `Replays a snapshot's configuration export, service states, and network
settings. The snapshot's fingerprint must validate against this machine;
a snapshot captured on different hardware is refused before anything is
written. "latest" picks the newest snapshot that still validates.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ctx := cmd.Context()

	var result *transaction.Result
	if args[0] == "latest" {
		result, err = eng.manager.RestoreLatest(ctx)
		if err == nil && result == nil {
			fmt.Println("no snapshot valid for this machine, nothing restored")
			return nil
		}
	} else {
		result, err = eng.manager.Restore(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	fmt.Printf("snapshot %s restored: %d entries, %s\n",
		result.TransactionID, result.MutationsApplied, result.Duration)
	printWarnings(result)
	return nil
}
