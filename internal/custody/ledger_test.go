package custody_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/db"
	"github.com/erazemk/armory/internal/metrics"
	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/store"
)

func newLedger(t *testing.T, opts ...custody.Option) *custody.Ledger {
	t.Helper()
	return custody.New(store.New(db.NewTestDB(t)), opts...)
}

func weapon(id, holder string) model.SerializedItem {
	return model.SerializedItem{Category: model.CategoryWeapon, ID: id, Type: "M4", AssignedTo: holder}
}

func TestAssignLeavesArmoryStateAlone(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	item := weapon("A-1", "S1")
	item.ArmoryStatus = model.StatusInDeposit
	item.DepositLocation = model.LocationFieldSafe
	_, err := l.CreateItem(ctx, item)
	require.NoError(t, err)

	got, err := l.Assign(ctx, item.Ref(), "S2")
	require.NoError(t, err)
	assert.Equal(t, "S2", got.AssignedTo)
	assert.Equal(t, model.StatusInDeposit, got.ArmoryStatus)
	assert.Equal(t, model.LocationFieldSafe, got.DepositLocation)

	got, err = l.Assign(ctx, item.Ref(), "")
	require.NoError(t, err)
	assert.False(t, got.Assigned())
}

func TestSetArmoryState(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	created, err := l.CreateItem(ctx, weapon("A-1", "S1"))
	require.NoError(t, err)
	ref := created.Ref()

	got, err := l.SetArmoryState(ctx, ref, model.StatusInDeposit, model.LocationMainArmory)
	require.NoError(t, err)
	assert.Equal(t, model.LocationMainArmory, got.DepositLocation)
	assert.Equal(t, "S1", got.AssignedTo)

	got, err = l.SetArmoryState(ctx, ref, model.StatusWithSoldier, "")
	require.NoError(t, err)
	assert.Empty(t, got.DepositLocation)

	tests := []struct {
		name   string
		status model.ArmoryStatus
		loc    model.DepositLocation
	}{
		{"location while with soldier", model.StatusWithSoldier, model.LocationMainArmory},
		{"deposit without location", model.StatusInDeposit, ""},
		{"unknown location", model.StatusInDeposit, "basement"},
		{"unknown status", "lent", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.SetArmoryState(ctx, ref, tt.status, tt.loc)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}

func TestUnknownItemIsNotFound(t *testing.T) {
	l := newLedger(t)

	_, err := l.Assign(context.Background(), model.ItemRef{Category: model.CategoryWeapon, ID: "X-9"}, "S1")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "X-9", nf.ID)
}

func TestApplyCompoundTransition(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	created, err := l.CreateItem(ctx, weapon("A-1", "S1"))
	require.NoError(t, err)

	got, err := l.Apply(ctx, created.Ref(), model.DepositTransition(model.LocationCompanyArmory, true))
	require.NoError(t, err)
	assert.False(t, got.Assigned())
	assert.Equal(t, model.StatusInDeposit, got.ArmoryStatus)

	got, err = l.Apply(ctx, created.Ref(), model.FullReleaseTransition(false, model.LocationMainArmory))
	require.NoError(t, err)
	assert.Equal(t, model.StatusWithSoldier, got.ArmoryStatus)
	assert.Empty(t, got.DepositLocation)

	_, err = l.Apply(ctx, created.Ref(), model.Transition{})
	assert.True(t, apperr.IsValidation(err))
}

func TestRestoreWritesPriorState(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	prior, err := l.CreateItem(ctx, weapon("A-1", "S1"))
	require.NoError(t, err)

	_, err = l.Apply(ctx, prior.Ref(), model.DepositTransition(model.LocationMainArmory, true))
	require.NoError(t, err)

	got, err := l.Restore(ctx, *prior)
	require.NoError(t, err)
	assert.Equal(t, "S1", got.AssignedTo)
	assert.Equal(t, model.StatusWithSoldier, got.ArmoryStatus)
	assert.Empty(t, got.DepositLocation)
}

func TestBulkMutations(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	rec, err := l.CreateBulk(ctx, model.BulkRecord{Type: "vest", Quantity: 4, AssignedTo: "S1"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	got, err := l.SetBulkArmoryState(ctx, rec.ID, model.StatusInDeposit, model.LocationFieldSafe)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Quantity)
	assert.Equal(t, "S1", got.AssignedTo)

	got, err = l.AssignBulk(ctx, rec.ID, "")
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)

	held, err := l.BulkHeldBy(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, held)

	_, err = l.CreateBulk(ctx, model.BulkRecord{Type: "vest", Quantity: 0})
	assert.True(t, apperr.IsValidation(err))
}

func TestHeldByAndComponents(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	for _, it := range []model.SerializedItem{
		weapon("A-1", "S1"),
		{Category: model.CategoryGear, ID: "NV-1", Type: "PVS-14", AssignedTo: "S1"},
		{Category: model.CategoryDroneSet, ID: "SET-1", Type: "mavic", AssignedTo: "S2"},
		{Category: model.CategoryDroneComponent, ID: "C-1", Type: "rotor", ParentID: "SET-1"},
	} {
		_, err := l.CreateItem(ctx, it)
		require.NoError(t, err)
	}

	held, err := l.ItemsHeldBy(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, held, 2)

	comps, err := l.Components(ctx, "SET-1")
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, "C-1", comps[0].ID)

	_, err = l.ItemsHeldBy(ctx, "")
	assert.True(t, apperr.IsValidation(err))

	_, err = l.CreateItem(ctx, model.SerializedItem{Category: model.CategoryWeapon, ID: "B-1", Type: "M4", ParentID: "SET-1"})
	assert.True(t, apperr.IsValidation(err))
}

func TestMutationsAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	l := newLedger(t, custody.WithMetrics(m))
	ctx := context.Background()

	created, err := l.CreateItem(ctx, weapon("A-1", "S1"))
	require.NoError(t, err)

	l.Assign(ctx, created.Ref(), "S2")
	l.Assign(ctx, model.ItemRef{Category: model.CategoryWeapon, ID: "missing"}, "S2")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("item", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("item", "error")))
}
