// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"strings"
	"testing"
)

func TestDebugCmd(t *testing.T) {
	setupTestDB(t)

	output := executeCommand(t, "debug")
	if !strings.Contains(output, "--- SHIPYARD DEBUG ---") {
		t.Errorf("expected debug banner, got:\n%s", output)
	}
	if !strings.Contains(output, "viper.AllSettings()") {
		t.Errorf("expected settings dump, got:\n%s", output)
	}
}
