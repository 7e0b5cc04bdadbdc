package db

import "embed"

// Migrations holds the golang-migrate files applied by cmd/migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the files.
const MigrationsDir = "migrations"
