package pairing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

// Reader is the read-only view of the ledger the rules need.
type Reader interface {
	Item(ctx context.Context, ref model.ItemRef) (*model.SerializedItem, error)
	FindItems(ctx context.Context, filter model.ItemFilter) ([]model.SerializedItem, error)
}

// Advisory reports a companion that exists but cannot move with the item,
// usually because it has a different holder.
type Advisory struct {
	Rule      string        `json:"rule"`
	Item      model.ItemRef `json:"item"`
	Companion model.ItemRef `json:"companion"`
	Message   string        `json:"message"`
}

// Rule finds the mandatory companion of an item, if any. A rule that does
// not apply to the item returns nil, nil, nil.
type Rule interface {
	Name() string
	Validate() error
	Companion(ctx context.Context, r Reader, item model.SerializedItem) (*model.SerializedItem, *Advisory, error)
}

// TwinRule pairs serials of the form BASE-1 and BASE-2 of the same type.
type TwinRule struct {
	Category model.Category
	Types    []string
}

func (t TwinRule) Name() string { return "twin" }

// Validate checks the rule is usable.
func (t TwinRule) Validate() error {
	if !t.Category.Valid() {
		return fmt.Errorf("twin rule: unknown category %q", t.Category)
	}
	if len(t.Types) == 0 {
		return fmt.Errorf("twin rule: no types configured")
	}
	for _, typ := range t.Types {
		if strings.TrimSpace(typ) == "" {
			return fmt.Errorf("twin rule: empty type")
		}
	}
	return nil
}

func (t TwinRule) pairable(typ string) bool {
	for _, known := range t.Types {
		if typ == known {
			return true
		}
	}
	return false
}

// TwinSerial returns the serial of the other half of a twin pair.
func TwinSerial(serial string) (string, bool) {
	i := strings.LastIndex(serial, "-")
	if i <= 0 {
		return "", false
	}
	base, suffix := serial[:i], serial[i+1:]
	switch suffix {
	case "1":
		return base + "-2", true
	case "2":
		return base + "-1", true
	}
	return "", false
}

// Companion returns the twin held by the same holder. Both items being
// unassigned counts as the same holder.
func (t TwinRule) Companion(ctx context.Context, r Reader, item model.SerializedItem) (*model.SerializedItem, *Advisory, error) {
	if item.Category != t.Category || !t.pairable(item.Type) {
		return nil, nil, nil
	}
	other, ok := TwinSerial(item.ID)
	if !ok {
		return nil, nil, nil
	}

	twin, err := r.Item(ctx, model.ItemRef{Category: item.Category, ID: other})
	if apperr.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("looking up twin of %s: %w", item.ID, err)
	}
	if twin.Type != item.Type {
		return nil, nil, nil
	}
	if twin.AssignedTo != item.AssignedTo {
		return nil, &Advisory{
			Rule:      t.Name(),
			Item:      item.Ref(),
			Companion: twin.Ref(),
			Message:   fmt.Sprintf("twin %s is held by %s, not %s", twin.ID, holderName(twin.AssignedTo), holderName(item.AssignedTo)),
		}, nil
	}
	return twin, nil, nil
}

// NVGBeamRule pairs a night-vision device with the beam whose serial starts
// with the prefix mapped from the device type.
type NVGBeamRule struct {
	Category model.Category
	Prefixes map[string]string
}

func (n NVGBeamRule) Name() string { return "nvg_beam" }

// Validate rejects empty or ambiguous prefixes.
func (n NVGBeamRule) Validate() error {
	if !n.Category.Valid() {
		return fmt.Errorf("nvg/beam rule: unknown category %q", n.Category)
	}
	if len(n.Prefixes) == 0 {
		return fmt.Errorf("nvg/beam rule: no pairs configured")
	}
	owner := make(map[string]string, len(n.Prefixes))
	for typ, prefix := range n.Prefixes {
		if strings.TrimSpace(typ) == "" || strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("nvg/beam rule: empty type or prefix")
		}
		if prev, ok := owner[prefix]; ok {
			return fmt.Errorf("nvg/beam rule: prefix %q shared by %s and %s", prefix, prev, typ)
		}
		owner[prefix] = typ
	}
	for a := range owner {
		for b := range owner {
			if a != b && strings.HasPrefix(b, a) {
				return fmt.Errorf("nvg/beam rule: prefix %q overlaps %q", a, b)
			}
		}
	}
	return nil
}

// nvgTypeFor returns the device type whose beam prefix the serial carries.
func (n NVGBeamRule) nvgTypeFor(serial string) (string, bool) {
	for typ, prefix := range n.Prefixes {
		if strings.HasPrefix(serial, prefix) {
			return typ, true
		}
	}
	return "", false
}

// Companion resolves from either side of the pair. Pool items have no
// companion under this rule.
func (n NVGBeamRule) Companion(ctx context.Context, r Reader, item model.SerializedItem) (*model.SerializedItem, *Advisory, error) {
	if item.Category != n.Category || !item.Assigned() {
		return nil, nil, nil
	}

	var match func(model.SerializedItem) bool
	if prefix, ok := n.Prefixes[item.Type]; ok {
		match = func(c model.SerializedItem) bool { return strings.HasPrefix(c.ID, prefix) }
	} else if typ, ok := n.nvgTypeFor(item.ID); ok {
		match = func(c model.SerializedItem) bool { return c.Type == typ }
	} else {
		return nil, nil, nil
	}

	held, err := r.FindItems(ctx, model.ItemFilter{Category: n.Category, AssignedTo: item.AssignedTo})
	if err != nil {
		return nil, nil, fmt.Errorf("listing gear of %s: %w", item.AssignedTo, err)
	}
	sort.Slice(held, func(i, j int) bool { return held[i].ID < held[j].ID })

	for _, c := range held {
		if c.ID != item.ID && match(c) {
			return &c, nil, nil
		}
	}
	return nil, nil, nil
}

func holderName(id string) string {
	if id == "" {
		return "the pool"
	}
	return id
}
