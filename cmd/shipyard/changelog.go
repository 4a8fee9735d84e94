// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/shipyard/internal/changelog"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/i18n"
)

func newChangelogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Manage the release changelog",
	}
	cmd.AddCommand(newChangelogAddCmd())
	cmd.AddCommand(newChangelogListCmd())
	cmd.AddCommand(newChangelogRenderCmd())
	cmd.AddCommand(newChangelogImportCmd())
	return cmd
}

func newChangelogAddCmd() *cobra.Command {
	var dateStr string

	cmd := &cobra.Command{
		Use:   "add <version> <description>",
		Short: "Record a changelog entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC()
			if dateStr != "" {
				var err error
				date, err = time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf(i18n.T("changelog.error_date", dateStr))
				}
			}
			if _, err := db.AddChangelogEntry(date, args[0], args[1]); err != nil {
				return fmt.Errorf(i18n.T("changelog.error_add", err))
			}
			fmt.Println(i18n.T("changelog.added", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&dateStr, "date", "", "Entry date (YYYY-MM-DD, default today)")
	return cmd
}

func newChangelogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List changelog entries, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := db.GetAllChangelogEntries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(i18n.T("changelog.none"))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Date.Format("2006-01-02"), e.Version, e.Description)
			}
			return w.Flush()
		},
	}
}

func newChangelogRenderCmd() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the changelog as a Markdown table",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := db.GetAllChangelogEntries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(i18n.T("changelog.none"))
				return nil
			}
			table := changelog.Render(entries)
			if outFile != "" {
				return os.WriteFile(outFile, []byte(table), 0644)
			}
			fmt.Print(table)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the table to a file instead of stdout")
	return cmd
}

func newChangelogImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <markdown-file>",
		Short: "Import an existing Markdown changelog table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf(i18n.T("changelog.error_import", err))
			}
			defer f.Close()

			added, skipped, err := changelog.Import(db.ActiveStore(), f)
			if err != nil {
				return fmt.Errorf(i18n.T("changelog.error_import", err))
			}
			fmt.Println(i18n.T("changelog.imported", added, skipped))
			return nil
		},
	}
}
