package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'manager', 'user')),
    division      TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS soldiers (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    division   TEXT NOT NULL DEFAULT '',
    team       TEXT NOT NULL DEFAULT '',
    email      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS items (
    category         TEXT NOT NULL CHECK (category IN ('weapon', 'gear', 'drone_set', 'drone_component')),
    serial           TEXT NOT NULL,
    type             TEXT NOT NULL,
    assigned_to      TEXT NOT NULL DEFAULT '',
    armory_status    TEXT NOT NULL DEFAULT 'with_soldier' CHECK (armory_status IN ('with_soldier', 'in_deposit')),
    deposit_location TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'operational',
    parent_id        TEXT NOT NULL DEFAULT '',
    division         TEXT NOT NULL DEFAULT '',
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (category, serial)
);

CREATE INDEX IF NOT EXISTS idx_items_assigned_to ON items(assigned_to);

CREATE TABLE IF NOT EXISTS bulk_equipment (
    id               TEXT PRIMARY KEY,
    type             TEXT NOT NULL,
    quantity         INTEGER NOT NULL CHECK (quantity > 0),
    assigned_to      TEXT NOT NULL DEFAULT '',
    armory_status    TEXT NOT NULL DEFAULT 'with_soldier' CHECK (armory_status IN ('with_soldier', 'in_deposit')),
    deposit_location TEXT NOT NULL DEFAULT '',
    division         TEXT NOT NULL DEFAULT '',
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_bulk_assigned_to ON bulk_equipment(assigned_to);

CREATE TABLE IF NOT EXISTS verifications (
    id            TEXT PRIMARY KEY,
    date          TEXT NOT NULL,
    subject_kind  TEXT NOT NULL CHECK (subject_kind IN ('soldier', 'item')),
    soldier_id    TEXT NOT NULL DEFAULT '',
    item_category TEXT NOT NULL DEFAULT '',
    item_id       TEXT NOT NULL DEFAULT '',
    checked_ids   TEXT NOT NULL DEFAULT '',
    verified_by   TEXT NOT NULL,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_verifications_date ON verifications(date);

CREATE TABLE IF NOT EXISTS audit_events (
    id          TEXT PRIMARY KEY,
    action      TEXT NOT NULL,
    subject_id  TEXT NOT NULL DEFAULT '',
    payload     BLOB NOT NULL,
    occurred_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist,
// then applies pending migrations.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return migrate(db)
}
