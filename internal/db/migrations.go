package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: users created before divisions existed.
	`ALTER TABLE users ADD COLUMN division TEXT NOT NULL DEFAULT ''`,
	// Migration 2: lookups by verification subject.
	`CREATE INDEX IF NOT EXISTS idx_verifications_subject
	     ON verifications(subject_kind, soldier_id, item_category, item_id)`,
}

// migrate runs the migration list. Adding a column that already exists is
// treated as applied.
func migrate(db *sql.DB) error {
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}
