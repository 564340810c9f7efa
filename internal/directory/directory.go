// Package directory resolves soldier IDs to profiles.
package directory

import (
	"context"
	"fmt"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

// Directory resolves soldiers.
type Directory interface {
	Soldier(ctx context.Context, id string) (*model.Soldier, error)
	Soldiers(ctx context.Context, division string) ([]model.Soldier, error)
}

// Store is the soldier table of a custody store.
type Store interface {
	GetSoldier(ctx context.Context, id string) (*model.Soldier, error)
	ListSoldiers(ctx context.Context, division string) ([]model.Soldier, error)
}

// StoreDirectory reads soldiers straight from a store.
type StoreDirectory struct {
	store Store
}

// FromStore returns a Directory backed by store.
func FromStore(store Store) *StoreDirectory {
	return &StoreDirectory{store: store}
}

// Soldier returns the soldier with id, or *apperr.NotFoundError.
func (d *StoreDirectory) Soldier(ctx context.Context, id string) (*model.Soldier, error) {
	s, err := d.store.GetSoldier(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("soldier", id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving soldier %s: %w", id, err)
	}
	return s, nil
}

// Soldiers lists soldiers, all of them when division is empty.
func (d *StoreDirectory) Soldiers(ctx context.Context, division string) ([]model.Soldier, error) {
	soldiers, err := d.store.ListSoldiers(ctx, division)
	if err != nil {
		return nil, fmt.Errorf("listing soldiers: %w", err)
	}
	return soldiers, nil
}

// DisplayName returns "Name (id)" for audit text, or the bare id when the
// soldier cannot be resolved.
func DisplayName(ctx context.Context, d Directory, id string) string {
	if id == "" {
		return "general pool"
	}
	s, err := d.Soldier(ctx, id)
	if err != nil || s.Name == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.ID)
}
