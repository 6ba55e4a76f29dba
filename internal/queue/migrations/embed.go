// Package migrations holds the postgres schema for the durable queue
// and the helpers that apply it.
package migrations

import "embed"

//go:embed sql
var sqlMigrations embed.FS
