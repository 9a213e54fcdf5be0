// Package syncdb holds all the migrations for the registry sync database
package syncdb

import "github.com/uptrace/bun/migrate"

// Migrations is the ordered collection applied by cmd/sync-server/migrate.
var Migrations = migrate.NewMigrations()
