package custody

import (
	"context"

	"github.com/erazemk/armory/internal/model"
)

// Store is the document store the ledger runs against. Lookups of missing
// documents return an error wrapping apperr.ErrNotFound. Updates merge the
// patch into the stored document and return the result.
type Store interface {
	GetItem(ctx context.Context, ref model.ItemRef) (*model.SerializedItem, error)
	FindItems(ctx context.Context, filter model.ItemFilter) ([]model.SerializedItem, error)
	CreateItem(ctx context.Context, item model.SerializedItem) error
	UpdateItem(ctx context.Context, ref model.ItemRef, patch model.ItemPatch) (*model.SerializedItem, error)
	DeleteItem(ctx context.Context, ref model.ItemRef) error

	GetBulk(ctx context.Context, id string) (*model.BulkRecord, error)
	FindBulk(ctx context.Context, filter model.BulkFilter) ([]model.BulkRecord, error)
	CreateBulk(ctx context.Context, rec model.BulkRecord) error
	UpdateBulk(ctx context.Context, id string, patch model.BulkPatch) (*model.BulkRecord, error)
	DeleteBulk(ctx context.Context, id string) error
}
