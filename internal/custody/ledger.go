// Package custody holds the canonical per-item custody state and the
// primitive operations that change it. Every operation targets exactly one
// item or bulk record; callers that mutate several items get no atomicity
// from this layer.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/metrics"
	"github.com/erazemk/armory/internal/model"
)

// Ledger applies custody mutations to a Store.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Item returns the current state of a serialized item.
func (l *Ledger) Item(ctx context.Context, ref model.ItemRef) (*model.SerializedItem, error) {
	item, err := l.store.GetItem(ctx, ref)
	if err != nil {
		return nil, translate(err, string(ref.Category), ref.ID)
	}
	return item, nil
}

// Bulk returns the current state of a bulk record.
func (l *Ledger) Bulk(ctx context.Context, id string) (*model.BulkRecord, error) {
	rec, err := l.store.GetBulk(ctx, id)
	if err != nil {
		return nil, translate(err, "bulk record", id)
	}
	return rec, nil
}

// FindItems returns the serialized items matching filter.
func (l *Ledger) FindItems(ctx context.Context, filter model.ItemFilter) ([]model.SerializedItem, error) {
	items, err := l.store.FindItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding items: %w", err)
	}
	return items, nil
}

// FindBulk returns the bulk records matching filter.
func (l *Ledger) FindBulk(ctx context.Context, filter model.BulkFilter) ([]model.BulkRecord, error) {
	recs, err := l.store.FindBulk(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding bulk records: %w", err)
	}
	return recs, nil
}

// ItemsHeldBy returns every serialized item assigned to soldierID, across
// all categories.
func (l *Ledger) ItemsHeldBy(ctx context.Context, soldierID string) ([]model.SerializedItem, error) {
	if soldierID == "" {
		return nil, apperr.Validation("soldier_id", "required")
	}
	return l.FindItems(ctx, model.ItemFilter{AssignedTo: soldierID})
}

// BulkHeldBy returns every bulk record assigned to soldierID.
func (l *Ledger) BulkHeldBy(ctx context.Context, soldierID string) ([]model.BulkRecord, error) {
	if soldierID == "" {
		return nil, apperr.Validation("soldier_id", "required")
	}
	return l.FindBulk(ctx, model.BulkFilter{AssignedTo: soldierID})
}

// Components returns the drone components belonging to a drone set.
func (l *Ledger) Components(ctx context.Context, setID string) ([]model.SerializedItem, error) {
	return l.FindItems(ctx, model.ItemFilter{Category: model.CategoryDroneComponent, ParentID: setID})
}

// Assign sets or clears (soldierID == "") the holder of an item. The armory
// state is untouched.
func (l *Ledger) Assign(ctx context.Context, ref model.ItemRef, soldierID string) (*model.SerializedItem, error) {
	return l.Apply(ctx, ref, model.ReassignTransition(soldierID))
}

// SetArmoryState moves an item into or out of a deposit.
func (l *Ledger) SetArmoryState(ctx context.Context, ref model.ItemRef, status model.ArmoryStatus, location model.DepositLocation) (*model.SerializedItem, error) {
	return l.Apply(ctx, ref, model.Transition{ArmoryStatus: &status, Location: location})
}

// Apply performs a compound transition on one serialized item.
func (l *Ledger) Apply(ctx context.Context, ref model.ItemRef, t model.Transition) (*model.SerializedItem, error) {
	if err := CheckTransition(t); err != nil {
		return nil, err
	}
	if !ref.Category.Valid() {
		return nil, apperr.Validation("category", "unknown category %q", ref.Category)
	}

	item, err := l.store.UpdateItem(ctx, ref, t.ItemPatch())
	l.metrics.IncMutation("item", err)
	if err != nil {
		return nil, translate(err, string(ref.Category), ref.ID)
	}

	l.logger.DebugContext(ctx, "item custody updated",
		"item", ref.String(),
		"assigned_to", item.AssignedTo,
		"armory_status", item.ArmoryStatus,
		"location", item.DepositLocation,
	)
	return item, nil
}

// AssignBulk sets or clears the holder of a whole bulk record.
func (l *Ledger) AssignBulk(ctx context.Context, id, soldierID string) (*model.BulkRecord, error) {
	return l.ApplyBulk(ctx, id, model.ReassignTransition(soldierID))
}

// SetBulkArmoryState moves a whole bulk record into or out of a deposit.
func (l *Ledger) SetBulkArmoryState(ctx context.Context, id string, status model.ArmoryStatus, location model.DepositLocation) (*model.BulkRecord, error) {
	return l.ApplyBulk(ctx, id, model.Transition{ArmoryStatus: &status, Location: location})
}

// ApplyBulk performs a compound transition on one whole bulk record.
func (l *Ledger) ApplyBulk(ctx context.Context, id string, t model.Transition) (*model.BulkRecord, error) {
	if err := CheckTransition(t); err != nil {
		return nil, err
	}

	rec, err := l.store.UpdateBulk(ctx, id, t.BulkPatch())
	l.metrics.IncMutation("bulk", err)
	if err != nil {
		return nil, translate(err, "bulk record", id)
	}
	return rec, nil
}

// Restore writes back a previously observed item state. It is the
// compensation step of a batch.
func (l *Ledger) Restore(ctx context.Context, prior model.SerializedItem) (*model.SerializedItem, error) {
	patch := model.ItemPatch{
		AssignedTo:      &prior.AssignedTo,
		ArmoryStatus:    &prior.ArmoryStatus,
		DepositLocation: &prior.DepositLocation,
	}
	item, err := l.store.UpdateItem(ctx, prior.Ref(), patch)
	l.metrics.IncMutation("restore", err)
	if err != nil {
		return nil, translate(err, string(prior.Category), prior.ID)
	}
	return item, nil
}

// RestoreBulk writes back a previously observed bulk record state.
func (l *Ledger) RestoreBulk(ctx context.Context, prior model.BulkRecord) (*model.BulkRecord, error) {
	patch := model.BulkPatch{
		Quantity:        &prior.Quantity,
		AssignedTo:      &prior.AssignedTo,
		ArmoryStatus:    &prior.ArmoryStatus,
		DepositLocation: &prior.DepositLocation,
	}
	rec, err := l.store.UpdateBulk(ctx, prior.ID, patch)
	l.metrics.IncMutation("restore", err)
	if err != nil {
		return nil, translate(err, "bulk record", prior.ID)
	}
	return rec, nil
}

// CreateItem registers a new serialized item.
func (l *Ledger) CreateItem(ctx context.Context, item model.SerializedItem) (*model.SerializedItem, error) {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return nil, apperr.Validation("id", "required")
	}
	if !item.Category.Valid() {
		return nil, apperr.Validation("category", "unknown category %q", item.Category)
	}
	if item.Type == "" {
		return nil, apperr.Validation("type", "required")
	}
	if item.ArmoryStatus == "" {
		item.ArmoryStatus = model.StatusWithSoldier
	}
	if err := model.CheckArmoryState(item.ArmoryStatus, item.DepositLocation); err != nil {
		return nil, apperr.Validation("armory_status", "%v", err)
	}
	if item.Status == "" {
		item.Status = model.ItemStatusOperational
	}
	if item.ParentID != "" && item.Category != model.CategoryDroneComponent {
		return nil, apperr.Validation("parent_id", "only drone components have a parent")
	}
	item.UpdatedAt = l.now().UTC()

	if err := l.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}
	return &item, nil
}

// DeleteItem removes a decommissioned item from the store.
func (l *Ledger) DeleteItem(ctx context.Context, ref model.ItemRef) error {
	if err := l.store.DeleteItem(ctx, ref); err != nil {
		return translate(err, string(ref.Category), ref.ID)
	}
	return nil
}

// CreateBulk registers a new bulk record. An empty ID is filled by the
// store.
func (l *Ledger) CreateBulk(ctx context.Context, rec model.BulkRecord) (*model.BulkRecord, error) {
	if rec.Type == "" {
		return nil, apperr.Validation("type", "required")
	}
	if rec.Quantity <= 0 {
		return nil, apperr.Validation("quantity", "must be positive, got %d", rec.Quantity)
	}
	if rec.ArmoryStatus == "" {
		rec.ArmoryStatus = model.StatusWithSoldier
	}
	if err := model.CheckArmoryState(rec.ArmoryStatus, rec.DepositLocation); err != nil {
		return nil, apperr.Validation("armory_status", "%v", err)
	}
	if rec.ID == "" {
		rec.ID = NewBulkID()
	}
	rec.UpdatedAt = l.now().UTC()

	if err := l.store.CreateBulk(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating bulk record: %w", err)
	}
	return &rec, nil
}

// CheckTransition rejects transitions whose status/location combination is
// inconsistent.
func CheckTransition(t model.Transition) error {
	if t.Empty() {
		return apperr.Validation("transition", "nothing to change")
	}
	if t.ArmoryStatus == nil {
		if t.Location != "" {
			return apperr.Validation("deposit_location", "given without an armory status")
		}
		return nil
	}
	if err := model.CheckArmoryState(*t.ArmoryStatus, t.Location); err != nil {
		return apperr.Validation("armory_status", "%v", err)
	}
	return nil
}

func translate(err error, kind, id string) error {
	if errors.Is(err, apperr.ErrNotFound) {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return apperr.NotFound(kind, id)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}
