// Package migrations embeds the goose migrations of the SQLite chunk buffer.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
