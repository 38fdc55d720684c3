// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

// FS holds the NNNN_name.up.sql / .down.sql pairs applied by cmd/migrate.
//
//go:embed *.sql
var FS embed.FS
