// Package migrations embeds the PostgreSQL schema for use at runtime.
// Migrations are embedded so they work regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
// Contains all .sql files in this directory (e.g. 001_deliberation_audit.sql).
//
//go:embed *.sql
var FS embed.FS
