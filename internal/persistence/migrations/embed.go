// Package migrations holds the SQL schema of the service, applied in file
// name order by persistence.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
