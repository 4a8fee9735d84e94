// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for the release catalog.
// This file contains the SQLite implementation of the catalog store.
package db // import "github.com/toeirei/shipyard/internal/db"

import (
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SqliteStore is the SQLite implementation of the Store interface.
// SQLite is the default engine and the only one exercised by the test
// suite on every run.
type SqliteStore struct {
	bunStore
}
