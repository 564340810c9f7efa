package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// NewTestDB returns a fresh in-memory database with the schema applied.
// It has a single connection, so concurrent callers are serialized.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()
	return openTestDB(t, ":memory:")
}

// NewFileTestDB returns a schema-initialized database in a temporary file.
// Unlike NewTestDB it runs in WAL mode with a real connection pool, for tests
// that exercise concurrent writers.
func NewFileTestDB(t testing.TB) *sql.DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "armory.db"))
}

func openTestDB(t testing.TB, path string) *sql.DB {
	t.Helper()

	database, err := Open(path)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := EnsureSchema(database); err != nil {
		t.Fatalf("creating test database schema: %v", err)
	}
	return database
}
