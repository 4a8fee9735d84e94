// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for the release catalog.
// This file contains the MySQL implementation of the catalog store.
// Note: This implementation is considered experimental.
package db // import "github.com/toeirei/shipyard/internal/db"

import (
	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStore is the MySQL implementation of the Store interface.
type MySQLStore struct {
	bunStore
}
