// Package migrations carries the schema as numbered SQL files applied by
// db.Migrator to each tenant schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
