package db

import "testing"

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	database := NewTestDB(t)

	// NewTestDB already ran it once.
	if err := EnsureSchema(database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}

	tables := []string{"users", "settings", "revoked_tokens", "soldiers", "items", "bulk_equipment", "verifications", "audit_events"}
	for _, table := range tables {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestBulkQuantityMustBePositive(t *testing.T) {
	database := NewTestDB(t)

	_, err := database.Exec(`INSERT INTO bulk_equipment (id, type, quantity) VALUES ('b1', 'vest', 0)`)
	if err == nil {
		t.Error("expected CHECK constraint failure for zero quantity")
	}
}

func TestFileDBUsesWAL(t *testing.T) {
	database := NewFileTestDB(t)

	var mode string
	if err := database.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("reading journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal, got %q", mode)
	}

	var fk int
	if err := database.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("reading foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Error("expected foreign keys on")
	}
}
