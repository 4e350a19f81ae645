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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sysrestore/services/guardian/health"
	"github.com/AleutianAI/sysrestore/services/guardian/protected"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show machine fingerprint, health, and snapshot inventory",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	fmt.Printf("fingerprint: %s\n", eng.fp.Generate())

	infos, err := eng.store.List()
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	validCount := 0
	for _, info := range infos {
		if eng.fp.Validate(info.Fingerprint) {
			validCount++
		}
	}
	fmt.Printf("snapshots: %d total, %d valid for this machine\n", len(infos), validCount)

	sampler := &health.ProcSampler{ProbeAddr: cfg.Health.ProbeAddr}
	sample, err := sampler.Sample(context.Background())
	if err == nil {
		score, warnings := health.ComputeScore(sample)
		fmt.Printf("health score: %.0f (cpu %.0f%%, mem %.0f%%, disk %.0f%%)\n",
			score, sample.CPUPercent, sample.MemoryPercent, sample.DiskPercent)
		for _, w := range warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}

	fmt.Printf("protected resources: %d paths, %d config subtrees, %d services\n",
		len(protected.Default.Paths), len(protected.Default.Subtrees), len(protected.Default.Services))

	if eng.manager.IsActive() {
		tx := eng.manager.Active()
		fmt.Printf("active transaction: %s (%s)\n", tx.ID, tx.Status)
	}
	return nil
}
