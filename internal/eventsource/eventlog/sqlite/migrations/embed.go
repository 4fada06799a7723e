// Package migrations embeds the schema of the SQLite event log.
package migrations

import "embed"

//go:embed log/*.sql
var LogFS embed.FS
