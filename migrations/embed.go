// Package migrations embeds the audit store schema migrations.
package migrations

import "embed"

// FS holds the numbered golang-migrate files (NNNNNN_name.up.sql / .down.sql).
//
//go:embed *.sql
var FS embed.FS
