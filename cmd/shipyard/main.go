// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for Shipyard using the Cobra
// library. It defines the root command, subcommands (package, release,
// publish, changelog, ...), flags, and the main entry point.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/i18n"
	"github.com/toeirei/shipyard/internal/logging"
)

var version = "dev" // this will be set by the linker
var cfgFile string

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd = newRootCmd()

	// Defaults used when neither config file, environment nor flags set a value.
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.dsn", "./shipyard.db")
	viper.SetDefault("language", "en")
	viper.SetDefault("staging.dir", "./dist")
	viper.SetDefault("upload.host", "")
	viper.SetDefault("upload.user", "")
	viper.SetDefault("upload.path", "/srv/files")
	viper.SetDefault("upload.key_path", "")
	viper.SetDefault("source.backend_dir", "")
	viper.SetDefault("source.frontend_dir", "")
	viper.SetDefault("source.provision_file", "")
}

// newRootCmd creates and configures a new root cobra command. This function
// is used to create the main application command as well as fresh instances
// for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shipyard",
		Short: "Shipyard packages and publishes release artifacts.",
		Long: `Shipyard turns the manual release runbook into commands: it packages
the backend and dashboard into tarballs, validates the provisioning
document, records everything in a release catalog with a changelog, and
publishes the artifacts to the file-hosting server with digest
verification on both ends.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetDebug(viper.GetBool("debug"))
			i18n.Init(viper.GetString("language"))
			dbType := viper.GetString("database.type")
			dsn := viper.GetString("database.dsn")
			if err := db.InitDB(dbType, dsn); err != nil {
				return errors.New(i18n.T("config.error_init_db", err))
			}
			return nil
		},
	}

	cmd.AddCommand(newPackageCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newReleaseCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newChangelogCmd())
	cmd.AddCommand(newTrustHostCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newSnapshotCmd())
	cmd.AddCommand(newMaintenanceCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDebugCmd())

	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./shipyard.yaml)")
	cmd.PersistentFlags().String("db-type", "sqlite", "Database type (e.g., sqlite, postgres)")
	cmd.PersistentFlags().String("db-dsn", "./shipyard.db", "Database connection string (DSN)")
	cmd.PersistentFlags().String("lang", "en", `Output language ("en", "de")`)
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	_ = viper.BindPFlag("database.type", cmd.PersistentFlags().Lookup("db-type"))
	_ = viper.BindPFlag("database.dsn", cmd.PersistentFlags().Lookup("db-dsn"))
	_ = viper.BindPFlag("language", cmd.PersistentFlags().Lookup("lang"))
	_ = viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))

	return cmd
}

// initConfig reads in a configuration file and environment variables. It
// searches for shipyard.yaml in the current directory, the user config dir
// and /etc/shipyard. If no config file exists, a commented default one is
// written next to the caller to make configuration discoverable.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("shipyard")
		viper.AddConfigPath(".")
		if userDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(userDir + "/shipyard")
		}
		viper.AddConfigPath("/etc/shipyard")
	}

	viper.SetEnvPrefix("SHIPYARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			const defaultConfigPath = "shipyard.yaml"
			defaultContent := `# Shipyard configuration file.
# This file is automatically generated with default values.

database:
  # The type of database to use. Supported values: "sqlite", "postgres", "mysql".
  # Note: PostgreSQL and MySQL support is experimental.
  type: sqlite

  # The Data Source Name (DSN) for the database connection.
  # For SQLite, this is the path to the database file.
  dsn: ./shipyard.db

# The default output language. Supported: "en", "de".
language: en

# Where packaged artifacts are staged before publishing.
staging:
  dir: ./dist

# Artifact sources. Leave empty to skip an artifact.
source:
  backend_dir: ""
  frontend_dir: ""
  provision_file: ""

# The file-hosting server artifacts are published to.
upload:
  host: ""
  user: ""
  path: /srv/files
  # Private key for authentication; the SSH agent is tried when empty.
  key_path: ""
`
			// Failing to write the default config is not fatal; the in-memory
			// defaults still apply.
			if err := os.WriteFile(defaultConfigPath, []byte(defaultContent), 0644); err == nil {
				fmt.Println("No config file found. Created a default 'shipyard.yaml' in the current directory.")
			}
		}
	}
}

// promptForConfirmation displays a prompt and reads a line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}
