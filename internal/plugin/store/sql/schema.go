package sql

import _ "embed"

//go:embed db/schema-postgres.sql
var postgresSchemaSQL string

//go:embed db/schema-sqlite.sql
var sqliteSchemaSQL string

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// SchemaSQL returns the embedded DDL for the given dialect. Used by tests
// that open their own database handle.
func SchemaSQL(dialect string) string {
	if dialect == "sqlite" {
		return sqliteSchemaSQL
	}
	return postgresSchemaSQL
}
