// Package migrations embeds the schema the careflow repositories expect in
// the host database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
