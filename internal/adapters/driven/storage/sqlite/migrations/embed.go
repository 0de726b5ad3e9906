// Package migrations holds the numbered schema scripts. Only *.up.sql
// files are applied; the down scripts are for manual rollback.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
