// Package migrations embeds the goose migrations for the client's local
// sqlite database (key records and metadata).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
