// Package db embeds the SQL migration files for the canonical store.
package db

import "embed"

// MigrationFS holds the embedded migration SQL files.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
