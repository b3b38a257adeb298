package migrations

import "embed"

// FS contains embedded SQLite migrations for command storage.
//
//go:embed *.sql
var FS embed.FS
