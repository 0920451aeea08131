package postgres

import "embed"

// Migrations holds the goose SQL migrations
//
//go:embed migrations/*.sql
var Migrations embed.FS
