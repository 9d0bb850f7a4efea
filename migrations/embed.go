// Package migrations carries the SQL schema files compiled into the
// binary, so a deployment never depends on loose .sql files. The
// database package consumes Files through its fs.FS migration source.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
