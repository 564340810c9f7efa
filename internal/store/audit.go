package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/armory/internal/apperr"
)

// SaveAuditEvent stores an encoded audit event. Saving the same ID again
// replaces the payload.
func SaveAuditEvent(ctx context.Context, db *sql.DB, id, action, subjectID string, payload []byte, occurredAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, subject_id, payload, occurred_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		id, action, subjectID, payload, occurredAt,
	)
	if err != nil {
		return fmt.Errorf("saving audit event: %w", err)
	}
	return nil
}

// LoadAuditEvent returns the encoded payload of an audit event.
func LoadAuditEvent(ctx context.Context, db *sql.DB, id string) ([]byte, error) {
	var payload []byte
	err := db.QueryRowContext(ctx,
		`SELECT payload FROM audit_events WHERE id = ?`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loading audit event %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading audit event: %w", err)
	}
	return payload, nil
}
