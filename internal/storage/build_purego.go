//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// It uses a pure Go SQLite implementation for both the semantic store and
// the lexical FTS5 index.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// Nearest-neighbour search scores every candidate chunk in Go, which is fine
// for local development and a handful of repositories. Use the postgres
// driver for large corpora.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
