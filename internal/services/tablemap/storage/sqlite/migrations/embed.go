package migrations

import "embed"

// FS contains embedded SQLite migrations for scene and token storage.
//
//go:embed *.sql
var FS embed.FS
