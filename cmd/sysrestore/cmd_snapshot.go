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
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	snapshotLabel string

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Manage restore-point snapshots",
	}

	snapshotCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Capture a snapshot of the current configuration state",
		RunE:  runSnapshotCreate,
	}

	snapshotListCmd = &cobra.Command{
		Use:   "list",
		Short: "List persisted snapshots, newest first",
		RunE:  runSnapshotList,
	}
)

func init() {
	snapshotCreateCmd.Flags().StringVar(&snapshotLabel, "label", "manual snapshot", "label recorded in the snapshot")
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	snap, err := eng.store.Create(cmd.Context(), snapshotLabel, nil)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}

	fmt.Printf("snapshot %s created: %q, %d config entries\n",
		snap.ID, snap.Label, len(snap.ConfigExport))
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	infos, err := eng.store.List()
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("no snapshots")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tLABEL\tVALID")
	for _, info := range infos {
		valid := "no"
		if eng.fp.Validate(info.Fingerprint) {
			valid = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.ID, info.CreatedAt.Format("2006-01-02 15:04:05"), info.Label, valid)
	}
	return w.Flush()
}
