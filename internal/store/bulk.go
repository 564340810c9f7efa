package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

const bulkColumns = `id, type, quantity, assigned_to, armory_status, deposit_location, division, updated_at`

func scanBulk(row interface{ Scan(...any) error }, b *model.BulkRecord) error {
	return row.Scan(&b.ID, &b.Type, &b.Quantity, &b.AssignedTo, &b.ArmoryStatus,
		&b.DepositLocation, &b.Division, &b.UpdatedAt)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertBulk(ctx context.Context, db execer, b model.BulkRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO bulk_equipment (`+bulkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Type, b.Quantity, b.AssignedTo, b.ArmoryStatus, b.DepositLocation, b.Division, b.UpdatedAt,
	)
	return err
}

// CreateBulk inserts a bulk equipment record.
func CreateBulk(ctx context.Context, db *sql.DB, b model.BulkRecord) error {
	if b.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if err := insertBulk(ctx, db, b); err != nil {
		return fmt.Errorf("creating bulk record: %w", err)
	}
	return nil
}

// GetBulk returns a bulk record by ID.
func GetBulk(ctx context.Context, db *sql.DB, id string) (*model.BulkRecord, error) {
	b := &model.BulkRecord{}
	err := scanBulk(db.QueryRowContext(ctx,
		`SELECT `+bulkColumns+` FROM bulk_equipment WHERE id = ?`, id,
	), b)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("getting bulk record %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting bulk record: %w", err)
	}
	return b, nil
}

// FindBulk returns bulk records matching every non-zero field of filter.
func FindBulk(ctx context.Context, db *sql.DB, f model.BulkFilter) ([]model.BulkRecord, error) {
	query := `SELECT ` + bulkColumns + ` FROM bulk_equipment WHERE 1=1`
	var args []any

	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Unassigned {
		query += ` AND assigned_to = ''`
	} else if f.AssignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, f.AssignedTo)
	}
	if f.ArmoryStatus != "" {
		query += ` AND armory_status = ?`
		args = append(args, f.ArmoryStatus)
	}
	if f.Division != "" {
		query += ` AND division = ?`
		args = append(args, f.Division)
	}

	query += ` ORDER BY type, updated_at, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding bulk records: %w", err)
	}
	defer rows.Close()

	var recs []model.BulkRecord
	for rows.Next() {
		var b model.BulkRecord
		if err := scanBulk(rows, &b); err != nil {
			return nil, fmt.Errorf("scanning bulk record: %w", err)
		}
		recs = append(recs, b)
	}
	return recs, rows.Err()
}

func bulkPatchSQL(p model.BulkPatch) (string, []any) {
	var sets []string
	var args []any

	if p.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, *p.Quantity)
	}
	if p.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *p.AssignedTo)
	}
	if p.ArmoryStatus != nil {
		sets = append(sets, "armory_status = ?")
		args = append(args, *p.ArmoryStatus)
	}
	if p.DepositLocation != nil {
		sets = append(sets, "deposit_location = ?")
		args = append(args, *p.DepositLocation)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	return strings.Join(sets, ", "), args
}

// UpdateBulk merges patch into the stored record and returns the result.
func UpdateBulk(ctx context.Context, db *sql.DB, id string, p model.BulkPatch) (*model.BulkRecord, error) {
	sets, args := bulkPatchSQL(p)
	args = append(args, id)

	result, err := db.ExecContext(ctx, `UPDATE bulk_equipment SET `+sets+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating bulk record: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("updating bulk record %s: %w", id, apperr.ErrNotFound)
	}
	return GetBulk(ctx, db, id)
}

// DeleteBulk removes a bulk record.
func DeleteBulk(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bulk_equipment WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting bulk record: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting bulk record %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// SplitBulk moves quantity units of record id into fragment in a single
// transaction. The original keeps the remainder and its state.
func SplitBulk(ctx context.Context, db *sql.DB, id string, quantity int, fragment model.BulkRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var available int
	err = tx.QueryRowContext(ctx,
		`SELECT quantity FROM bulk_equipment WHERE id = ?`, id,
	).Scan(&available)
	if err == sql.ErrNoRows {
		return fmt.Errorf("splitting bulk record %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking available quantity: %w", err)
	}
	if quantity <= 0 || quantity >= available {
		return fmt.Errorf("cannot split %d of %d units", quantity, available)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE bulk_equipment SET quantity = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		available-quantity, id,
	)
	if err != nil {
		return fmt.Errorf("reducing source record: %w", err)
	}

	fragment.Quantity = quantity
	if err := insertBulk(ctx, tx, fragment); err != nil {
		return fmt.Errorf("creating fragment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing split: %w", err)
	}
	return nil
}

// MergeBulk adds the quantities of absorbed records to keep and deletes
// them, in a single transaction.
func MergeBulk(ctx context.Context, db *sql.DB, keep string, absorbed []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range absorbed {
		var qty int
		err := tx.QueryRowContext(ctx, `SELECT quantity FROM bulk_equipment WHERE id = ?`, id).Scan(&qty)
		if err == sql.ErrNoRows {
			return fmt.Errorf("merging bulk record %s: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading absorbed record: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE bulk_equipment SET quantity = quantity + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			qty, keep,
		)
		if err != nil {
			return fmt.Errorf("growing kept record: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("merging into bulk record %s: %w", keep, apperr.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM bulk_equipment WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting absorbed record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}
	return nil
}
