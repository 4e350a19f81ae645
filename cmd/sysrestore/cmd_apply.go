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
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/sysrestore/services/guardian/gateway"
	"github.com/AleutianAI/sysrestore/services/guardian/transaction"
)

var (
	applyLabel  string
	applyDryRun bool

	applyCmd = &cobra.Command{
		Use:   "apply [batch-file]",
		Short: "Apply a mutation batch transactionally",
		Long: `Reads a YAML batch file, begins a transaction (capturing a snapshot),
applies the batch with every write backed up first, and commits. Any
failure rolls the whole batch back. With --dry-run the batch is applied
and immediately reverted, validating reversibility without keeping the
changes.`,
		Args: cobra.ExactArgs(1),
		RunE: runApply,
	}
)

func init() {
	applyCmd.Flags().StringVar(&applyLabel, "label", "", "operation label recorded in the snapshot")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "apply then immediately revert")
}

// batchFile is the on-disk YAML shape of a mutation batch.
type batchFile struct {
	Label         string         `yaml:"label"`
	PauseServices []string       `yaml:"pause_services"`
	Mutations     []mutationSpec `yaml:"mutations"`
}

type mutationSpec struct {
	Location string   `yaml:"location"`
	Kind     string   `yaml:"kind"`
	Value    string   `yaml:"value"`
	Values   []string `yaml:"values"`
}

func runApply(cmd *cobra.Command, args []string) error {
	batch, label, err := loadBatchFile(args[0])
	if err != nil {
		return err
	}
	if applyLabel != "" {
		label = applyLabel
	}
	if label == "" {
		label = "cli apply"
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ctx := cmd.Context()

	tx, err := eng.manager.Begin(ctx, label)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	fmt.Printf("transaction %s started, snapshot %s captured\n", tx.ID, tx.SnapshotID)

	result, err := eng.manager.ApplyBatch(ctx, *batch)
	if err != nil {
		fmt.Printf("batch failed and was rolled back: %v\n", err)
		printWarnings(result)
		return err
	}

	if applyDryRun {
		result, err = eng.manager.Revert(ctx, "dry run")
		if err != nil {
			return fmt.Errorf("reverting dry run: %w", err)
		}
		fmt.Printf("dry run reverted: %d mutations validated\n", len(batch.Mutations))
		printWarnings(result)
		return nil
	}

	result, err = eng.manager.Commit(ctx)
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	fmt.Printf("committed: %d mutations, %d services paused, %s\n",
		result.MutationsApplied, result.ServicesPaused, result.Duration)
	printWarnings(result)
	return nil
}

func loadBatchFile(path string) (*transaction.Batch, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading batch file: %w", err)
	}

	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("parsing batch file: %w", err)
	}
	if len(file.Mutations) == 0 && len(file.PauseServices) == 0 {
		return nil, "", fmt.Errorf("batch file declares no mutations and no service pauses")
	}

	batch := &transaction.Batch{ServicePauses: file.PauseServices}
	for i, spec := range file.Mutations {
		m, err := parseMutation(spec)
		if err != nil {
			return nil, "", fmt.Errorf("mutation %d (%s): %w", i+1, spec.Location, err)
		}
		batch.Mutations = append(batch.Mutations, m)
	}
	return batch, file.Label, nil
}

func parseMutation(spec mutationSpec) (transaction.Mutation, error) {
	if spec.Location == "" {
		return transaction.Mutation{}, fmt.Errorf("location is required")
	}

	var value gateway.ConfigValue
	switch spec.Kind {
	case "dword":
		n, err := strconv.ParseUint(spec.Value, 0, 32)
		if err != nil {
			return transaction.Mutation{}, fmt.Errorf("invalid dword %q: %w", spec.Value, err)
		}
		value = gateway.Dword(uint32(n))
	case "qword":
		n, err := strconv.ParseUint(spec.Value, 0, 64)
		if err != nil {
			return transaction.Mutation{}, fmt.Errorf("invalid qword %q: %w", spec.Value, err)
		}
		value = gateway.Qword(n)
	case "string":
		value = gateway.String(spec.Value)
	case "expand_string":
		value = gateway.ExpandString(spec.Value)
	case "multi_string":
		value = gateway.MultiString(spec.Values...)
	case "binary":
		b, err := hex.DecodeString(spec.Value)
		if err != nil {
			return transaction.Mutation{}, fmt.Errorf("invalid binary hex %q: %w", spec.Value, err)
		}
		value = gateway.Binary(b)
	default:
		return transaction.Mutation{}, fmt.Errorf("unknown kind %q", spec.Kind)
	}

	return transaction.Mutation{Location: spec.Location, Value: value}, nil
}

func printWarnings(result *transaction.Result) {
	if result == nil {
		return
	}
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
