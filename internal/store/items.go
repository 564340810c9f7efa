package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

const itemColumns = `category, serial, type, assigned_to, armory_status, deposit_location, status, parent_id, division, updated_at`

func scanItem(row interface{ Scan(...any) error }, it *model.SerializedItem) error {
	return row.Scan(&it.Category, &it.ID, &it.Type, &it.AssignedTo, &it.ArmoryStatus,
		&it.DepositLocation, &it.Status, &it.ParentID, &it.Division, &it.UpdatedAt)
}

// CreateItem inserts a serialized item. The serial must be unused within
// its category.
func CreateItem(ctx context.Context, db *sql.DB, it model.SerializedItem) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.Category, it.ID, it.Type, it.AssignedTo, it.ArmoryStatus,
		it.DepositLocation, it.Status, it.ParentID, it.Division, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

// GetItem returns a serialized item by category and serial.
func GetItem(ctx context.Context, db *sql.DB, ref model.ItemRef) (*model.SerializedItem, error) {
	it := &model.SerializedItem{}
	err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE category = ? AND serial = ?`,
		ref.Category, ref.ID,
	), it)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("getting item %s: %w", ref, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return it, nil
}

// FindItems returns items matching every non-zero field of filter, ordered
// by category and serial.
func FindItems(ctx context.Context, db *sql.DB, f model.ItemFilter) ([]model.SerializedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any

	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
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
	if f.ParentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, f.ParentID)
	}
	if f.Division != "" {
		query += ` AND division = ?`
		args = append(args, f.Division)
	}

	query += ` ORDER BY category, serial`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding items: %w", err)
	}
	defer rows.Close()

	var items []model.SerializedItem
	for rows.Next() {
		var it model.SerializedItem
		if err := scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateItem merges patch into the stored item and returns the result.
func UpdateItem(ctx context.Context, db *sql.DB, ref model.ItemRef, p model.ItemPatch) (*model.SerializedItem, error) {
	var sets []string
	var args []any

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
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, ref.Category, ref.ID)

	result, err := db.ExecContext(ctx,
		`UPDATE items SET `+strings.Join(sets, ", ")+` WHERE category = ? AND serial = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("updating item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("updating item %s: %w", ref, apperr.ErrNotFound)
	}

	return GetItem(ctx, db, ref)
}

// DeleteItem removes a serialized item.
func DeleteItem(ctx context.Context, db *sql.DB, ref model.ItemRef) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM items WHERE category = ? AND serial = ?`, ref.Category, ref.ID,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting item %s: %w", ref, apperr.ErrNotFound)
	}
	return nil
}
