// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/shipyard/internal/config"
	"github.com/toeirei/shipyard/internal/i18n"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the Shipyard configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigInitCmd builds 'config init', which persists the effective
// settings (defaults, config file, environment and flags combined) to the
// user or system config path.
func newConfigInitCmd() *cobra.Command {
	var system bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective settings to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c config.Config
			if err := viper.Unmarshal(&c); err != nil {
				return fmt.Errorf(i18n.T("config.error_write", err))
			}
			if err := config.WriteConfigFile(&c, system); err != nil {
				return fmt.Errorf(i18n.T("config.error_write", err))
			}
			path, err := config.GetConfigPath(system)
			if err != nil {
				return err
			}
			fmt.Println(i18n.T("config.written", path))
			return nil
		},
	}

	cmd.Flags().BoolVar(&system, "system", false, "Write the system-wide config instead of the user config")
	return cmd
}
