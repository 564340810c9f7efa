package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

const verificationColumns = `id, date, subject_kind, soldier_id, item_category, item_id, checked_ids, verified_by, created_at`

func scanVerification(row interface{ Scan(...any) error }, v *model.Verification) error {
	var checked string
	err := row.Scan(&v.ID, &v.Date, &v.Subject.Kind, &v.Subject.SoldierID,
		&v.Subject.ItemCategory, &v.Subject.ItemID, &checked, &v.VerifiedBy, &v.CreatedAt)
	if err != nil {
		return err
	}
	if checked == "" {
		v.CheckedIDs = []string{}
		return nil
	}
	return json.Unmarshal([]byte(checked), &v.CheckedIDs)
}

func encodeChecked(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encoding checked ids: %w", err)
	}
	return string(data), nil
}

// CreateVerification inserts a verification record. It never checks for an
// existing record at the same key.
func CreateVerification(ctx context.Context, db *sql.DB, v model.Verification) error {
	checked, err := encodeChecked(v.CheckedIDs)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO verifications (`+verificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Date, v.Subject.Kind, v.Subject.SoldierID, v.Subject.ItemCategory, v.Subject.ItemID,
		checked, v.VerifiedBy, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating verification: %w", err)
	}
	return nil
}

// GetVerification returns a verification record by ID.
func GetVerification(ctx context.Context, db *sql.DB, id string) (*model.Verification, error) {
	v := &model.Verification{}
	err := scanVerification(db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE id = ?`, id,
	), v)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("getting verification %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting verification: %w", err)
	}
	return v, nil
}

// FindVerifications returns records matching the filter, oldest first.
func FindVerifications(ctx context.Context, db *sql.DB, f model.VerificationFilter) ([]model.Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM verifications WHERE 1=1`
	var args []any

	if f.Date != "" {
		query += ` AND date = ?`
		args = append(args, f.Date)
	}
	if f.Subject != nil {
		query += ` AND subject_kind = ? AND soldier_id = ? AND item_category = ? AND item_id = ?`
		args = append(args, f.Subject.Kind, f.Subject.SoldierID, f.Subject.ItemCategory, f.Subject.ItemID)
	}
	if f.CheckedID != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(verifications.checked_ids) WHERE value = ?)`
		args = append(args, f.CheckedID)
	}

	query += ` ORDER BY created_at, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding verifications: %w", err)
	}
	defer rows.Close()

	var out []model.Verification
	for rows.Next() {
		var v model.Verification
		if err := scanVerification(rows, &v); err != nil {
			return nil, fmt.Errorf("scanning verification: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReplaceVerification overwrites the snapshot of an existing record.
func ReplaceVerification(ctx context.Context, db *sql.DB, id string, checkedIDs []string, verifiedBy string, at time.Time) (*model.Verification, error) {
	checked, err := encodeChecked(checkedIDs)
	if err != nil {
		return nil, err
	}
	result, err := db.ExecContext(ctx,
		`UPDATE verifications SET checked_ids = ?, verified_by = ?, created_at = ? WHERE id = ?`,
		checked, verifiedBy, at, id,
	)
	if err != nil {
		return nil, fmt.Errorf("replacing verification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("replacing verification %s: %w", id, apperr.ErrNotFound)
	}
	return GetVerification(ctx, db, id)
}

// DeleteVerification hard-deletes a verification record.
func DeleteVerification(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM verifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting verification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting verification %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
