//go:build !cgo

package engine

import (
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// DriverName is the database/sql driver of this build variant.
const DriverName = "sqlite"

// Variant names the engine build selected for this binary.
const Variant = "sqlite-purego"
