// Package migrations embeds the versioned SQL migrations for the PostgreSQL
// session store.
package migrations

import "embed"

// FS holds the migration files.
//
//go:embed *.sql
var FS embed.FS
