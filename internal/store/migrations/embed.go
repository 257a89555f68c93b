// Package migrations embeds the schema of the session index.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
