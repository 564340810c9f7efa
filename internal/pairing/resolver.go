// Package pairing expands a selection of items with the companions that
// must move with them.
package pairing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

// Expansion is the closed selection.
type Expansion struct {
	// Items holds the selection followed by the companions added to it.
	Items []model.SerializedItem `json:"items"`
	// Added lists the companions that were not in the selection.
	Added      []model.ItemRef `json:"added,omitempty"`
	Advisories []Advisory      `json:"advisories,omitempty"`
	// Missing lists selected refs the ledger does not know.
	Missing []model.ItemRef `json:"missing,omitempty"`
}

// Refs returns the identity of every item in the expansion.
func (e *Expansion) Refs() []model.ItemRef {
	refs := make([]model.ItemRef, 0, len(e.Items))
	for _, it := range e.Items {
		refs = append(refs, it.Ref())
	}
	return refs
}

// Resolver applies a registry's rules until the selection is closed.
type Resolver struct {
	reader   Reader
	registry *Registry
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(reader Reader, registry *Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{reader: reader, registry: registry, logger: logger}
}

// Expand closes refs under the pairing rules. Duplicate refs collapse.
// Unknown refs are reported in Missing and do not fail the expansion.
func (r *Resolver) Expand(ctx context.Context, refs []model.ItemRef) (*Expansion, error) {
	exp := &Expansion{}
	seen := make(map[model.ItemRef]bool)
	advised := make(map[[2]model.ItemRef]bool)

	var queue []model.SerializedItem
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		item, err := r.reader.Item(ctx, ref)
		if apperr.IsNotFound(err) {
			exp.Missing = append(exp.Missing, ref)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("expanding selection: %w", err)
		}
		queue = append(queue, *item)
	}

	for i := 0; i < len(queue); i++ {
		item := queue[i]
		for _, rule := range r.registry.Rules() {
			companion, adv, err := rule.Companion(ctx, r.reader, item)
			if err != nil {
				return nil, fmt.Errorf("applying %s rule to %s: %w", rule.Name(), item.Ref(), err)
			}
			if adv != nil {
				key := [2]model.ItemRef{adv.Item, adv.Companion}
				if !advised[key] {
					advised[key] = true
					exp.Advisories = append(exp.Advisories, *adv)
				}
			}
			if companion == nil || seen[companion.Ref()] {
				continue
			}
			seen[companion.Ref()] = true
			queue = append(queue, *companion)
			exp.Added = append(exp.Added, companion.Ref())

			r.logger.DebugContext(ctx, "companion added",
				"rule", rule.Name(),
				"item", item.Ref().String(),
				"companion", companion.Ref().String(),
			)
		}
	}

	exp.Items = queue
	return exp, nil
}
