package migrations

import "embed"

// FS contains the embedded SQLite migrations for the tutor database.
//
//go:embed *.sql
var FS embed.FS
