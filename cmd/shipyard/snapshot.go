// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/i18n"
	"github.com/toeirei/shipyard/internal/snapshot"
)

// defaultSnapshotFile is where 'snapshot export' writes without an argument.
const defaultSnapshotFile = "shipyard.snap"

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export, import or merge the release catalog",
		Long: `Snapshots move the whole catalog (releases, artifacts, changelog,
host keys, uploads) as one zstd-compressed YAML file, for backups or for
seeding another workstation.`,
	}
	cmd.AddCommand(newSnapshotExportCmd())
	cmd.AddCommand(newSnapshotImportCmd())
	cmd.AddCommand(newSnapshotIntegrateCmd())
	return cmd
}

func newSnapshotExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the catalog to a snapshot file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := defaultSnapshotFile
			if len(args) > 0 {
				out = args[0]
			}
			if err := snapshot.Export(db.ActiveStore(), out); err != nil {
				return fmt.Errorf(i18n.T("snapshot.error", err))
			}
			fmt.Println(i18n.T("snapshot.exported", out))
			return nil
		},
	}
}

func newSnapshotImportCmd() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore the catalog from a snapshot (replaces everything)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !assumeYes {
				if promptForConfirmation(i18n.T("snapshot.confirm_import")) != "yes" {
					fmt.Println(i18n.T("snapshot.aborted"))
					os.Exit(1)
				}
			}
			if err := snapshot.Import(db.ActiveStore(), args[0]); err != nil {
				return fmt.Errorf(i18n.T("snapshot.error", err))
			}
			fmt.Println(i18n.T("snapshot.imported"))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Replace the catalog without asking")
	return cmd
}

func newSnapshotIntegrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrate <file>",
		Short: "Merge a snapshot into the catalog without replacing local data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := snapshot.Integrate(db.ActiveStore(), args[0]); err != nil {
				return fmt.Errorf(i18n.T("snapshot.error", err))
			}
			fmt.Println(i18n.T("snapshot.integrated"))
			return nil
		},
	}
}
