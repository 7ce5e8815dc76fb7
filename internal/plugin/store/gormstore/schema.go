package gormstore

import _ "embed"

//go:embed db/postgres.sql
var postgresSchemaSQL string

//go:embed db/sqlite.sql
var sqliteSchemaSQL string

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0
