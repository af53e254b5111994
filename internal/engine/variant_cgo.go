//go:build cgo

package engine

import (
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DriverName is the database/sql driver of this build variant.
const DriverName = "sqlite3"

// Variant names the engine build selected for this binary.
const Variant = "sqlite3-cgo"
