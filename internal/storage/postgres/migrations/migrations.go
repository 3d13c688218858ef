// Package migrations embeds the Postgres schema migrations.
package migrations

import "embed"

// Files holds the migration scripts.
//
//go:embed *.sql
var Files embed.FS
