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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sysrestore/pkg/logging"
	"github.com/AleutianAI/sysrestore/services/guardian/config"
)

var (
	cfg        config.Config
	logger     *logging.Logger
	configPath string
	gatewayDir string
	quiet      bool

	rootCmd = &cobra.Command{
		Use:   "sysrestore",
		Short: "Reversible system-configuration transactions with snapshot restore",
		Long: `sysrestore applies batches of configuration mutations transactionally:
every write is backed up first, failures roll the whole batch back, and
fingerprinted snapshots allow restoring the machine to a known-good state.`,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML/JSON config file")
	rootCmd.PersistentFlags().StringVar(&gatewayDir, "gateway-dir", "~/.sysrestore/gateway", "directory backing the local system gateway")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress stderr logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Observability.LogLevel),
			LogDir:  cfg.Observability.LogDir,
			Service: "sysrestore",
			JSON:    cfg.Observability.LogJSON,
			Quiet:   quiet,
		})
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(statusCmd)
}
