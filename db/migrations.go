// Package db carries the SQL schema so binaries do not depend on a
// migrations directory being present at runtime.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
