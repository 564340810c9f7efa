package pairing

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

type memReader struct {
	items map[model.ItemRef]model.SerializedItem
}

func newMemReader(items ...model.SerializedItem) *memReader {
	m := &memReader{items: make(map[model.ItemRef]model.SerializedItem)}
	for _, it := range items {
		m.items[it.Ref()] = it
	}
	return m
}

func (m *memReader) Item(_ context.Context, ref model.ItemRef) (*model.SerializedItem, error) {
	it, ok := m.items[ref]
	if !ok {
		return nil, apperr.NotFound(string(ref.Category), ref.ID)
	}
	return &it, nil
}

func (m *memReader) FindItems(_ context.Context, f model.ItemFilter) ([]model.SerializedItem, error) {
	var out []model.SerializedItem
	for _, it := range m.items {
		if f.Category != "" && it.Category != f.Category {
			continue
		}
		if f.AssignedTo != "" && it.AssignedTo != f.AssignedTo {
			continue
		}
		out = append(out, it)
	}
	// Map order is random; the rule must not depend on store order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func testRegistry() *Registry {
	return NewRegistry(
		TwinRule{Category: model.CategoryWeapon, Types: []string{"twin-rifle"}},
		NVGBeamRule{Category: model.CategoryGear, Prefixes: map[string]string{"PVS-14": "PEQ-", "PVS-31": "NGAL-"}},
	)
}

func gun(id, typ, holder string) model.SerializedItem {
	return model.SerializedItem{Category: model.CategoryWeapon, ID: id, Type: typ, AssignedTo: holder}
}

func gear(id, typ, holder string) model.SerializedItem {
	return model.SerializedItem{Category: model.CategoryGear, ID: id, Type: typ, AssignedTo: holder}
}

func refSet(refs []model.ItemRef) map[model.ItemRef]bool {
	out := make(map[model.ItemRef]bool, len(refs))
	for _, r := range refs {
		out[r] = true
	}
	return out
}

func TestTwinClosure(t *testing.T) {
	reader := newMemReader(
		gun("BASE-1", "twin-rifle", "S1"),
		gun("BASE-2", "twin-rifle", "S1"),
		gun("OTHER-1", "twin-rifle", "S1"),
	)
	r := NewResolver(reader, testRegistry(), nil)
	ctx := context.Background()

	exp, err := r.Expand(ctx, []model.ItemRef{{Category: model.CategoryWeapon, ID: "BASE-1"}})
	require.NoError(t, err)
	assert.Equal(t, []model.ItemRef{
		{Category: model.CategoryWeapon, ID: "BASE-1"},
		{Category: model.CategoryWeapon, ID: "BASE-2"},
	}, exp.Refs())
	assert.Equal(t, []model.ItemRef{{Category: model.CategoryWeapon, ID: "BASE-2"}}, exp.Added)

	again, err := r.Expand(ctx, exp.Refs())
	require.NoError(t, err)
	assert.Equal(t, exp.Refs(), again.Refs())
	assert.Empty(t, again.Added)
}

func TestTwinSelectingBothDoesNotDuplicate(t *testing.T) {
	reader := newMemReader(gun("BASE-1", "twin-rifle", "S1"), gun("BASE-2", "twin-rifle", "S1"))
	r := NewResolver(reader, testRegistry(), nil)

	exp, err := r.Expand(context.Background(), []model.ItemRef{
		{Category: model.CategoryWeapon, ID: "BASE-2"},
		{Category: model.CategoryWeapon, ID: "BASE-1"},
		{Category: model.CategoryWeapon, ID: "BASE-2"},
	})
	require.NoError(t, err)
	assert.Len(t, exp.Items, 2)
	assert.Empty(t, exp.Added)
}

func TestTwinDifferentHolderIsAdvisory(t *testing.T) {
	reader := newMemReader(gun("BASE-1", "twin-rifle", "S1"), gun("BASE-2", "twin-rifle", "S2"))
	r := NewResolver(reader, testRegistry(), nil)

	exp, err := r.Expand(context.Background(), []model.ItemRef{{Category: model.CategoryWeapon, ID: "BASE-1"}})
	require.NoError(t, err)
	assert.Len(t, exp.Items, 1)
	require.Len(t, exp.Advisories, 1)
	assert.Equal(t, "twin", exp.Advisories[0].Rule)
	assert.Equal(t, "BASE-2", exp.Advisories[0].Companion.ID)
}

func TestTwinRuleIgnores(t *testing.T) {
	tests := []struct {
		name  string
		items []model.SerializedItem
	}{
		{"type not pairable", []model.SerializedItem{gun("BASE-1", "M4", "S1"), gun("BASE-2", "M4", "S1")}},
		{"type mismatch", []model.SerializedItem{gun("BASE-1", "twin-rifle", "S1"), gun("BASE-2", "M4", "S1")}},
		{"suffix out of range", []model.SerializedItem{gun("BASE-3", "twin-rifle", "S1"), gun("BASE-1", "twin-rifle", "S1")}},
		{"no twin", []model.SerializedItem{gun("BASE-1", "twin-rifle", "S1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newMemReader(tt.items...), testRegistry(), nil)
			exp, err := r.Expand(context.Background(), []model.ItemRef{tt.items[0].Ref()})
			require.NoError(t, err)
			assert.Len(t, exp.Items, 1)
			assert.Empty(t, exp.Advisories)
		})
	}
}

func TestPoolTwinsPair(t *testing.T) {
	reader := newMemReader(gun("BASE-1", "twin-rifle", ""), gun("BASE-2", "twin-rifle", ""))
	r := NewResolver(reader, testRegistry(), nil)

	exp, err := r.Expand(context.Background(), []model.ItemRef{{Category: model.CategoryWeapon, ID: "BASE-2"}})
	require.NoError(t, err)
	assert.Len(t, exp.Items, 2)
}

func TestNVGBeamSymmetry(t *testing.T) {
	reader := newMemReader(
		gear("NV-100", "PVS-14", "S1"),
		gear("PEQ-7", "beam", "S1"),
		gear("PEQ-9", "beam", "S1"),
		gear("PEQ-1", "beam", "S2"),
		gear("H-1", "helmet", "S1"),
	)
	r := NewResolver(reader, testRegistry(), nil)
	ctx := context.Background()

	fromNVG, err := r.Expand(ctx, []model.ItemRef{{Category: model.CategoryGear, ID: "NV-100"}})
	require.NoError(t, err)
	fromBeam, err := r.Expand(ctx, []model.ItemRef{{Category: model.CategoryGear, ID: "PEQ-7"}})
	require.NoError(t, err)

	want := map[model.ItemRef]bool{
		{Category: model.CategoryGear, ID: "NV-100"}: true,
		{Category: model.CategoryGear, ID: "PEQ-7"}:  true,
	}
	assert.Equal(t, want, refSet(fromNVG.Refs()))
	assert.Equal(t, want, refSet(fromBeam.Refs()))
}

func TestNVGBeamNeedsHolder(t *testing.T) {
	reader := newMemReader(gear("NV-100", "PVS-14", ""), gear("PEQ-7", "beam", ""))
	r := NewResolver(reader, testRegistry(), nil)

	exp, err := r.Expand(context.Background(), []model.ItemRef{{Category: model.CategoryGear, ID: "NV-100"}})
	require.NoError(t, err)
	assert.Len(t, exp.Items, 1)
}

func TestMissingRefsAreReported(t *testing.T) {
	reader := newMemReader(gun("BASE-1", "twin-rifle", "S1"))
	r := NewResolver(reader, testRegistry(), nil)

	exp, err := r.Expand(context.Background(), []model.ItemRef{
		{Category: model.CategoryWeapon, ID: "BASE-1"},
		{Category: model.CategoryWeapon, ID: "GHOST-1"},
	})
	require.NoError(t, err)
	assert.Len(t, exp.Items, 1)
	assert.Equal(t, []model.ItemRef{{Category: model.CategoryWeapon, ID: "GHOST-1"}}, exp.Missing)
}

func TestTwinSerial(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"RIFLE-55-1", "RIFLE-55-2", true},
		{"RIFLE-55-2", "RIFLE-55-1", true},
		{"RIFLE-55-3", "", false},
		{"RIFLE", "", false},
		{"-1", "", false},
	}
	for _, tt := range tests {
		got, ok := TwinSerial(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRegistryValidate(t *testing.T) {
	assert.NoError(t, testRegistry().Validate())
	assert.NoError(t, DefaultConfig().Registry().Validate())
	assert.Error(t, NewRegistry().Validate())

	bad := []Rule{
		TwinRule{Category: model.CategoryWeapon},
		TwinRule{Category: "tank", Types: []string{"x"}},
		NVGBeamRule{Category: model.CategoryGear, Prefixes: map[string]string{"A": "PEQ-", "B": "PEQ-"}},
		NVGBeamRule{Category: model.CategoryGear, Prefixes: map[string]string{"A": "PEQ-", "B": "PEQ-1"}},
		NVGBeamRule{Category: model.CategoryGear, Prefixes: map[string]string{"A": ""}},
	}
	for _, rule := range bad {
		assert.Error(t, NewRegistry(rule).Validate(), "%+v", rule)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := `
twins:
  - category: weapon
    types: [twin-rifle]
nvg_beam:
  category: gear
  pairs:
    PVS-14: PEQ-
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	reg, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, reg.Rules(), 2)
	assert.Equal(t, "twin", reg.Rules()[0].Name())

	require.NoError(t, os.WriteFile(path, []byte("twins:\n  - category: tank\n    types: [x]\n"), 0o600))
	_, err = LoadRules(path)
	assert.Error(t, err)

	reg, err = LoadRules("")
	require.NoError(t, err)
	assert.Len(t, reg.Rules(), 2)
}
