// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/i18n"
	"github.com/toeirei/shipyard/internal/publish"
)

// newTrustHostCmd builds the 'trust-host' command. Pinning the hosting
// server's key is a required step before the first publish.
func newTrustHostCmd() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "trust-host <host>",
		Short: "Fetch and pin the hosting server's SSH key",
		Long: `Connects to the hosting server, retrieves its public key, shows the
fingerprint and pins the key in the catalog after confirmation. Uploads
refuse to run against hosts whose key is not pinned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			hostname := target
			if i := strings.LastIndex(target, "@"); i >= 0 {
				hostname = target[i+1:]
			}
			if h, _, err := publish.ParseHostPort(hostname); err == nil {
				hostname = h
			}

			fmt.Println(i18n.T("trust_host.fetching", hostname))
			key, err := publish.FetchHostKey(target)
			if err != nil {
				return fmt.Errorf(i18n.T("trust_host.error_get_key", err))
			}

			fmt.Println(i18n.T("trust_host.fingerprint", hostname, fmt.Sprintf("%s %s", key.Type(), publish.Fingerprint(key))))

			if !assumeYes {
				if promptForConfirmation(i18n.T("trust_host.prompt")) != "yes" {
					fmt.Println(i18n.T("trust_host.aborted"))
					os.Exit(1)
				}
			}

			if err := db.AddKnownHostKey(hostname, publish.AuthorizedKey(key)); err != nil {
				return err
			}
			fmt.Println(i18n.T("trust_host.added", hostname))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Pin without asking for confirmation")
	return cmd
}

// newAuditCmd builds the 'audit' command, printing the catalog's audit
// trail of mutations.
func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Show the catalog audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := db.GetAllAuditLogEntries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(i18n.T("audit.none"))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp, e.Username, e.Action, e.Details)
			}
			return w.Flush()
		},
	}
}

// newMaintenanceCmd builds the 'maintenance' command.
func newMaintenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run database maintenance (vacuum/optimize)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbType := viper.GetString("database.type")
			dsn := viper.GetString("database.dsn")
			fmt.Println(i18n.T("maintenance.running", dbType))
			if err := db.RunDBMaintenance(dbType, dsn); err != nil {
				return fmt.Errorf(i18n.T("maintenance.error", err))
			}
			fmt.Println(i18n.T("maintenance.success"))
			return nil
		},
	}
}
