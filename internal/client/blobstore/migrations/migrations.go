// Package migrations embeds the SQL schema of the pending blob database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
