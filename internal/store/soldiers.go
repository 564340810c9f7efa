package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

// CreateSoldier inserts a soldier profile.
func CreateSoldier(ctx context.Context, db *sql.DB, s model.Soldier) (*model.Soldier, error) {
	_, err := db.ExecContext(ctx,
		`INSERT INTO soldiers (id, name, division, team, email) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Division, s.Team, s.Email,
	)
	if err != nil {
		return nil, fmt.Errorf("creating soldier: %w", err)
	}
	return GetSoldier(ctx, db, s.ID)
}

// GetSoldier returns a soldier by ID.
func GetSoldier(ctx context.Context, db *sql.DB, id string) (*model.Soldier, error) {
	s := &model.Soldier{}
	err := db.QueryRowContext(ctx,
		`SELECT id, name, division, team, email, created_at FROM soldiers WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Division, &s.Team, &s.Email, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("getting soldier %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting soldier: %w", err)
	}
	return s, nil
}

// ListSoldiers returns soldiers, optionally filtered by division.
func ListSoldiers(ctx context.Context, db *sql.DB, division string) ([]model.Soldier, error) {
	var rows *sql.Rows
	var err error

	if division != "" {
		rows, err = db.QueryContext(ctx,
			`SELECT id, name, division, team, email, created_at
			 FROM soldiers WHERE division = ? ORDER BY name`, division,
		)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT id, name, division, team, email, created_at
			 FROM soldiers ORDER BY name`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing soldiers: %w", err)
	}
	defer rows.Close()

	var soldiers []model.Soldier
	for rows.Next() {
		var s model.Soldier
		if err := rows.Scan(&s.ID, &s.Name, &s.Division, &s.Team, &s.Email, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning soldier: %w", err)
		}
		soldiers = append(soldiers, s)
	}
	return soldiers, rows.Err()
}
