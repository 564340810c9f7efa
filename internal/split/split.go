// Package split partitions bulk equipment records when only part of a
// quantity changes custody.
package split

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/metrics"
	"github.com/erazemk/armory/internal/model"
)

// AtomicSplitter is implemented by stores that can reduce a record and
// create its fragment in one transaction.
type AtomicSplitter interface {
	SplitBulk(ctx context.Context, id string, quantity int, fragment model.BulkRecord) error
}

// AtomicMerger is implemented by stores that can merge records in one
// transaction.
type AtomicMerger interface {
	MergeBulk(ctx context.Context, keep string, absorbed []string) error
}

// Outcome describes what a release did to the store.
type Outcome struct {
	// Original is the source record after the release. For a whole-record
	// release it carries the target state.
	Original model.BulkRecord `json:"original"`
	// Prior is the source record before the release.
	Prior model.BulkRecord `json:"prior"`
	// Fragment is the new record, nil for a whole-record release.
	Fragment *model.BulkRecord `json:"fragment,omitempty"`
}

// Partial reports whether a fragment was created.
func (o Outcome) Partial() bool {
	return o.Fragment != nil
}

// Engine performs bulk releases against a custody store.
type Engine struct {
	store   custody.Store
	ledger  *custody.Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an Engine. The ledger is used for whole-record
// transitions so they are validated and counted like any other mutation.
func NewEngine(store custody.Store, ledger *custody.Ledger, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, ledger: ledger, logger: logger, metrics: m, now: time.Now}
}

// Release moves quantity units of rec into the target state. The units left
// behind keep rec's assignment and armory state.
func (e *Engine) Release(ctx context.Context, rec model.BulkRecord, quantity int, target model.Transition) (*Outcome, error) {
	if quantity < 1 || quantity > rec.Quantity {
		return nil, apperr.Validation("quantity", "must be between 1 and %d, got %d", rec.Quantity, quantity)
	}
	if err := custody.CheckTransition(target); err != nil {
		return nil, err
	}

	if quantity == rec.Quantity {
		updated, err := e.ledger.ApplyBulk(ctx, rec.ID, target)
		if err != nil {
			return nil, err
		}
		e.metrics.IncSplit(false)
		return &Outcome{Original: *updated, Prior: rec}, nil
	}

	fragment := target.BulkPatch().Apply(rec)
	fragment.ID = custody.NewBulkID()
	fragment.Quantity = quantity
	fragment.UpdatedAt = e.now().UTC()

	if err := e.split(ctx, rec, quantity, fragment); err != nil {
		return nil, err
	}

	original := rec
	original.Quantity = rec.Quantity - quantity
	e.metrics.IncSplit(true)

	e.logger.InfoContext(ctx, "bulk record split",
		"record", rec.ID,
		"type", rec.Type,
		"kept", original.Quantity,
		"released", quantity,
		"fragment", fragment.ID,
	)
	return &Outcome{Original: original, Prior: rec, Fragment: &fragment}, nil
}

func (e *Engine) split(ctx context.Context, rec model.BulkRecord, quantity int, fragment model.BulkRecord) error {
	if s, ok := e.store.(AtomicSplitter); ok {
		if err := s.SplitBulk(ctx, rec.ID, quantity, fragment); err != nil {
			if apperr.IsNotFound(err) {
				return apperr.NotFound("bulk record", rec.ID)
			}
			return fmt.Errorf("splitting bulk record %s: %w", rec.ID, err)
		}
		return nil
	}

	// Fragment first, then reduce. A failed reduce deletes the fragment.
	if err := e.store.CreateBulk(ctx, fragment); err != nil {
		return fmt.Errorf("creating fragment of %s: %w", rec.ID, err)
	}

	remaining := rec.Quantity - quantity
	if _, err := e.store.UpdateBulk(ctx, rec.ID, model.BulkPatch{Quantity: &remaining}); err != nil {
		if delErr := e.store.DeleteBulk(ctx, fragment.ID); delErr != nil {
			e.logger.ErrorContext(ctx, "fragment left behind after failed split",
				"record", rec.ID,
				"fragment", fragment.ID,
				"error", delErr,
			)
		}
		if apperr.IsNotFound(err) {
			return apperr.NotFound("bulk record", rec.ID)
		}
		return fmt.Errorf("reducing bulk record %s: %w", rec.ID, err)
	}
	return nil
}

// Undo reverses a release recorded in o.
func (e *Engine) Undo(ctx context.Context, o Outcome) error {
	if o.Fragment != nil {
		if err := e.store.DeleteBulk(ctx, o.Fragment.ID); err != nil {
			return fmt.Errorf("removing fragment %s: %w", o.Fragment.ID, err)
		}
	}
	if _, err := e.ledger.RestoreBulk(ctx, o.Prior); err != nil {
		return err
	}
	return nil
}

// Consolidate merges records of typ held by holder that share the same
// state. It returns the surviving records. Total quantity is unchanged.
func (e *Engine) Consolidate(ctx context.Context, holder, typ string) ([]model.BulkRecord, error) {
	if typ == "" {
		return nil, apperr.Validation("type", "required")
	}
	filter := model.BulkFilter{Type: typ, AssignedTo: holder, Unassigned: holder == ""}
	recs, err := e.store.FindBulk(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing bulk records: %w", err)
	}

	var groups [][]model.BulkRecord
	for _, rec := range recs {
		placed := false
		for i, g := range groups {
			if g[0].SameState(rec) {
				groups[i] = append(g, rec)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []model.BulkRecord{rec})
		}
	}

	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		if err := e.merge(ctx, g); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "bulk records consolidated",
			"type", typ,
			"holder", holder,
			"kept", g[0].ID,
			"absorbed", len(g)-1,
		)
	}

	out, err := e.store.FindBulk(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing bulk records: %w", err)
	}
	return out, nil
}

func (e *Engine) merge(ctx context.Context, g []model.BulkRecord) error {
	keep := g[0]
	absorbed := make([]string, 0, len(g)-1)
	total := keep.Quantity
	for _, rec := range g[1:] {
		absorbed = append(absorbed, rec.ID)
		total += rec.Quantity
	}

	if m, ok := e.store.(AtomicMerger); ok {
		if err := m.MergeBulk(ctx, keep.ID, absorbed); err != nil {
			return fmt.Errorf("merging into %s: %w", keep.ID, err)
		}
		return nil
	}

	// Grow the survivor before deleting the absorbed records.
	if _, err := e.store.UpdateBulk(ctx, keep.ID, model.BulkPatch{Quantity: &total}); err != nil {
		return fmt.Errorf("growing bulk record %s: %w", keep.ID, err)
	}
	for _, id := range absorbed {
		if err := e.store.DeleteBulk(ctx, id); err != nil {
			return fmt.Errorf("deleting absorbed record %s: %w", id, err)
		}
	}
	return nil
}
