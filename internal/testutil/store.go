package testutil

import (
	"testing"

	storesql "github.com/aiforum/rag-service/internal/plugin/store/sql"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLiteStore opens an in-memory SQLite database with the service schema
// applied. The pool is limited to one connection so every query sees the same
// in-memory database.
func OpenSQLiteStore(t *testing.T) *storesql.GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_, err = sqlDB.Exec(storesql.SchemaSQL("sqlite"))
	require.NoError(t, err)

	return storesql.NewWithDB(db, "sqlite")
}
