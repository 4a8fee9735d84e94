// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/toeirei/shipyard/internal/logging"
)

func newDebugCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "debug",
		Short:  "Dump debug information about config, env, flags and settings",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("--- SHIPYARD DEBUG ---")
			fmt.Printf("Config file used: %s\n", viper.ConfigFileUsed())

			settings := viper.AllSettings()
			b, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				logging.Errorf("could not marshal viper settings: %v", err)
			} else {
				fmt.Println("-- viper.AllSettings() --")
				fmt.Println(string(b))
			}

			fmt.Println("-- flags --")
			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				fmt.Printf("%s = %s\n", f.Name, f.Value.String())
			})

			fmt.Println("-- environment (SHIPYARD_*) --")
			for _, e := range os.Environ() {
				if strings.HasPrefix(e, "SHIPYARD_") {
					fmt.Println(e)
				}
			}

			fmt.Println("--- END DEBUG ---")
			return nil
		},
	}
}
