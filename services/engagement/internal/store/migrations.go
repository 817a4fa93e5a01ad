package store

import "embed"

// Migrations holds the SQL schema applied by db.Migrate at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"
