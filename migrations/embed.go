// Package migrations embeds the SQL schema migrations for the history sink.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
