// Package migrations embeds the SQLite schema so the binary can migrate
// without the .sql files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
