// Package migrations embeds the replica schema migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
