package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/audit"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/db"
	"github.com/erazemk/armory/internal/directory"
	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/orchestrator"
	"github.com/erazemk/armory/internal/pairing"
	"github.com/erazemk/armory/internal/split"
	"github.com/erazemk/armory/internal/store"
)

var (
	admin   = orchestrator.Actor{UserID: 1, Username: "admin", Role: model.RoleAdmin}
	manager = orchestrator.Actor{UserID: 2, Username: "sgt", Role: model.RoleManager, Division: "alpha"}
	viewer  = orchestrator.Actor{UserID: 3, Username: "pvt", Role: model.RoleUser}
)

// flakyStore fails every update of fail. The first update of once goes
// through and later ones fail until healed, so undoing once fails.
type flakyStore struct {
	*store.SQLStore
	fail model.ItemRef
	once model.ItemRef

	mu     sync.Mutex
	wrote  bool
	healed bool
}

func (f *flakyStore) UpdateItem(ctx context.Context, ref model.ItemRef, p model.ItemPatch) (*model.SerializedItem, error) {
	if ref == f.fail {
		return nil, errors.New("write conflict")
	}
	if ref == f.once {
		f.mu.Lock()
		blocked := f.wrote && !f.healed
		f.wrote = true
		f.mu.Unlock()
		if blocked {
			return nil, errors.New("restore write rejected")
		}
	}
	return f.SQLStore.UpdateItem(ctx, ref, p)
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healed = true
}

type failingSink struct{}

func (failingSink) Record(context.Context, audit.Event) error {
	return errors.New("audit trail offline")
}

type fixture struct {
	o      *orchestrator.Orchestrator
	ledger *custody.Ledger
	sql    *store.SQLStore
	sink   *audit.LogSink
}

type fixtureOpts struct {
	store custody.Store
	sink  audit.Sink
	opts  []orchestrator.Option
	file  bool
}

func newFixture(t *testing.T, fo fixtureOpts) *fixture {
	t.Helper()
	database := db.NewTestDB(t)
	if fo.file {
		database = db.NewFileTestDB(t)
	}
	sqlStore := store.New(database)
	var st custody.Store = sqlStore
	if fo.store != nil {
		st = fo.store
		if fs, ok := fo.store.(*flakyStore); ok {
			fs.SQLStore = sqlStore
		}
	}

	ledger := custody.New(st)
	resolver := pairing.NewResolver(ledger, pairing.DefaultConfig().Registry(), nil)
	engine := split.NewEngine(st, ledger, nil, nil)
	logSink := audit.NewLogSink(sqlStore, nil)
	var sink audit.Sink = logSink
	if fo.sink != nil {
		sink = fo.sink
	}
	pub := audit.NewPublisher(sink, nil)

	f := &fixture{
		o:      orchestrator.New(ledger, resolver, engine, directory.FromStore(sqlStore), pub, fo.opts...),
		ledger: ledger,
		sql:    sqlStore,
		sink:   logSink,
	}

	ctx := context.Background()
	for _, s := range []model.Soldier{
		{ID: "S1", Name: "Ana Novak", Division: "alpha"},
		{ID: "S2", Name: "Bor Kos", Division: "alpha"},
		{ID: "S3", Name: "Cene Vidmar", Division: "bravo"},
	} {
		_, err := sqlStore.CreateSoldier(ctx, s)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) weapon(t *testing.T, id, typ, holder string) model.ItemRef {
	t.Helper()
	it, err := f.ledger.CreateItem(context.Background(), model.SerializedItem{
		Category: model.CategoryWeapon, ID: id, Type: typ, AssignedTo: holder,
	})
	require.NoError(t, err)
	return it.Ref()
}

func (f *fixture) item(t *testing.T, ref model.ItemRef) *model.SerializedItem {
	t.Helper()
	it, err := f.ledger.Item(context.Background(), ref)
	require.NoError(t, err)
	return it
}

func TestFullReleaseClearsTwins(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	first := f.weapon(t, "RIFLE-55-1", "Glock 17", "S1")
	second := f.weapon(t, "RIFLE-55-2", "Glock 17", "S1")
	other := f.weapon(t, "A-9", "M4", "S1")

	res, err := f.o.FullRelease(ctx, admin, orchestrator.FullReleaseRequest{
		SoldierID: "S1",
		Selection: orchestrator.Selection{Items: []model.ItemRef{first}},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, []model.ItemRef{second}, res.Added)
	assert.Len(t, res.Moved, 2)

	for _, ref := range []model.ItemRef{first, second} {
		it := f.item(t, ref)
		assert.False(t, it.Assigned(), ref.String())
		assert.Equal(t, model.StatusWithSoldier, it.ArmoryStatus)
	}
	assert.Equal(t, "S1", f.item(t, other).AssignedTo)

	assert.Equal(t, audit.OutcomeDelivered, res.Notification.Outcome)
	ev, err := f.sink.Load(ctx, res.Notification.EventID)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionFullRelease, ev.Action)
	assert.Equal(t, "Ana Novak (S1)", ev.SubjectName)
	assert.Equal(t, "admin", ev.Actor)
}

func TestFullReleaseSplitsBulk(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.ledger.CreateBulk(ctx, model.BulkRecord{ID: "V1", Type: "vest", Quantity: 5, AssignedTo: "S1"})
	require.NoError(t, err)

	res, err := f.o.FullRelease(ctx, admin, orchestrator.FullReleaseRequest{
		SoldierID:      "S1",
		ToDeposit:      true,
		Location:       model.LocationMainArmory,
		BulkQuantities: map[string]int{"V1": 3},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Moved, 1)
	assert.Equal(t, 3, res.Moved[0].Quantity)

	kept, err := f.ledger.Bulk(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, 2, kept.Quantity)
	assert.Equal(t, "S1", kept.AssignedTo)
	assert.Equal(t, model.StatusWithSoldier, kept.ArmoryStatus)

	pool, err := f.ledger.FindBulk(ctx, model.BulkFilter{Type: "vest", Unassigned: true})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, 3, pool[0].Quantity)
	assert.Equal(t, model.StatusInDeposit, pool[0].ArmoryStatus)
	assert.Equal(t, model.LocationMainArmory, pool[0].DepositLocation)
}

func TestFullReleaseRejectsForeignSelection(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ref := f.weapon(t, "A-1", "M4", "S2")

	_, err := f.o.FullRelease(context.Background(), admin, orchestrator.FullReleaseRequest{
		SoldierID: "S1",
		Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
	})
	assert.True(t, apperr.IsValidation(err), "got %v", err)
	assert.Equal(t, "S2", f.item(t, ref).AssignedTo)
}

func TestFullReleaseNothingHeld(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.o.FullRelease(context.Background(), admin, orchestrator.FullReleaseRequest{SoldierID: "S1"})
	assert.True(t, apperr.IsValidation(err), "got %v", err)
}

func TestDepositReportsStaleItems(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	ref := f.weapon(t, "A-1", "M4", "S1")
	ghost := model.ItemRef{Category: model.CategoryWeapon, ID: "GHOST"}

	res, err := f.o.Deposit(ctx, admin, orchestrator.DepositRequest{
		Selection: orchestrator.Selection{
			Items: []model.ItemRef{ref, ghost},
			Bulk:  []orchestrator.BulkSelection{{ID: "missing"}},
		},
		Location: model.LocationCompanyArmory,
	})
	require.NoError(t, err)

	var pf *apperr.PartialFailure
	require.ErrorAs(t, res.Err(), &pf)
	assert.Equal(t, 3, pf.Total)
	require.Len(t, pf.Failed, 2)
	assert.Equal(t, "weapon/GHOST", pf.Failed[0].Item)
	assert.True(t, apperr.IsNotFound(pf.Failed[0].Err))
	assert.Equal(t, "bulk/missing", pf.Failed[1].Item)

	it := f.item(t, ref)
	assert.Equal(t, model.StatusInDeposit, it.ArmoryStatus)
	assert.Equal(t, model.LocationCompanyArmory, it.DepositLocation)
	assert.Equal(t, "S1", it.AssignedTo)
	assert.Equal(t, audit.OutcomeDelivered, res.Notification.Outcome)
}

func TestConcurrentDispatchOnPooledDB(t *testing.T) {
	f := newFixture(t, fixtureOpts{file: true, opts: []orchestrator.Option{orchestrator.WithConcurrency(8)}})
	ctx := context.Background()

	var refs []model.ItemRef
	for i := range 24 {
		refs = append(refs, f.weapon(t, fmt.Sprintf("M-%02d", i), "M4", "S1"))
	}
	_, err := f.ledger.CreateBulk(ctx, model.BulkRecord{Type: "vest", Quantity: 4, AssignedTo: "S1"})
	require.NoError(t, err)

	res, err := f.o.FullRelease(ctx, admin, orchestrator.FullReleaseRequest{
		SoldierID: "S1",
		ToDeposit: true,
		Location:  model.LocationMainArmory,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Len(t, res.Moved, 25)

	for _, ref := range refs {
		it := f.item(t, ref)
		assert.False(t, it.Assigned(), ref.String())
		assert.Equal(t, model.StatusInDeposit, it.ArmoryStatus, ref.String())
	}
	held, err := f.ledger.BulkHeldBy(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestDepositToPool(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ref := f.weapon(t, "A-1", "M4", "S1")

	res, err := f.o.Deposit(context.Background(), admin, orchestrator.DepositRequest{
		Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
		Location:  model.LocationFieldSafe,
		ToPool:    true,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.False(t, f.item(t, ref).Assigned())
}

func TestReleaseKeepsAssignment(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	ref := f.weapon(t, "A-1", "M4", "S1")
	_, err := f.ledger.SetArmoryState(ctx, ref, model.StatusInDeposit, model.LocationMainArmory)
	require.NoError(t, err)

	res, err := f.o.Release(ctx, admin, orchestrator.ReleaseRequest{
		Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	it := f.item(t, ref)
	assert.Equal(t, "S1", it.AssignedTo)
	assert.Equal(t, model.StatusWithSoldier, it.ArmoryStatus)
	assert.Empty(t, it.DepositLocation)
}

func TestNotificationFailureKeepsCustody(t *testing.T) {
	f := newFixture(t, fixtureOpts{sink: failingSink{}})
	ref := f.weapon(t, "A-1", "M4", "S1")

	res, err := f.o.Reassign(context.Background(), admin, orchestrator.ReassignRequest{
		Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
		NewHolder: "S2",
	})
	require.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Error(t, res.NotificationErr())
	assert.Equal(t, audit.OutcomeUnavailable, res.Notification.Outcome)
	assert.Equal(t, "S2", f.item(t, ref).AssignedTo)
}

func TestReassignUnknownHolder(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ref := f.weapon(t, "A-1", "M4", "S1")

	_, err := f.o.Reassign(context.Background(), admin, orchestrator.ReassignRequest{
		Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
		NewHolder: "S99",
	})
	assert.True(t, apperr.IsValidation(err), "got %v", err)
	assert.Equal(t, "S1", f.item(t, ref).AssignedTo)
}

func TestValidationBlocksBatch(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	ref := f.weapon(t, "A-1", "M4", "S1")
	_, err := f.ledger.CreateBulk(ctx, model.BulkRecord{ID: "V1", Type: "vest", Quantity: 5, AssignedTo: "S1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  orchestrator.DepositRequest
	}{
		{"quantity above record", orchestrator.DepositRequest{
			Selection: orchestrator.Selection{Items: []model.ItemRef{ref}, Bulk: []orchestrator.BulkSelection{{ID: "V1", Quantity: 9}}},
			Location:  model.LocationMainArmory,
		}},
		{"negative quantity", orchestrator.DepositRequest{
			Selection: orchestrator.Selection{Items: []model.ItemRef{ref}, Bulk: []orchestrator.BulkSelection{{ID: "V1", Quantity: -1}}},
			Location:  model.LocationMainArmory,
		}},
		{"missing location", orchestrator.DepositRequest{
			Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
		}},
		{"bad signature", orchestrator.DepositRequest{
			Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
			Location:  model.LocationMainArmory,
			Signature: []byte("not an image"),
		}},
		{"empty selection", orchestrator.DepositRequest{Location: model.LocationMainArmory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.o.Deposit(ctx, admin, tt.req)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}

	assert.Equal(t, model.StatusWithSoldier, f.item(t, ref).ArmoryStatus)
	rec, err := f.ledger.Bulk(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Quantity)
}

func TestPermissions(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	alpha := f.weapon(t, "A-1", "M4", "S1")
	bravo := f.weapon(t, "B-1", "M4", "S3")

	deposit := func(actor orchestrator.Actor, ref model.ItemRef) error {
		_, err := f.o.Deposit(ctx, actor, orchestrator.DepositRequest{
			Selection: orchestrator.Selection{Items: []model.ItemRef{ref}},
			Location:  model.LocationMainArmory,
		})
		return err
	}

	assert.True(t, apperr.IsPermission(deposit(viewer, alpha)))
	assert.True(t, apperr.IsPermission(deposit(manager, bravo)))
	assert.Equal(t, model.StatusWithSoldier, f.item(t, bravo).ArmoryStatus)

	assert.NoError(t, deposit(manager, alpha))
	assert.NoError(t, deposit(admin, bravo))

	_, err := f.o.Reassign(ctx, manager, orchestrator.ReassignRequest{
		Selection: orchestrator.Selection{Items: []model.ItemRef{alpha}},
		NewHolder: "S3",
	})
	assert.True(t, apperr.IsPermission(err), "got %v", err)

	_, err = f.o.FullRelease(ctx, manager, orchestrator.FullReleaseRequest{SoldierID: "S3"})
	assert.True(t, apperr.IsPermission(err), "got %v", err)
}

func TestCompensate(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	a := f.weapon(t, "A-1", "M4", "S1")
	_, err := f.ledger.CreateBulk(ctx, model.BulkRecord{ID: "V1", Type: "vest", Quantity: 5, AssignedTo: "S1"})
	require.NoError(t, err)

	res, err := f.o.FullRelease(ctx, admin, orchestrator.FullReleaseRequest{
		SoldierID:      "S1",
		BulkQuantities: map[string]int{"V1": 2},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Compensable())

	require.NoError(t, f.o.Compensate(ctx, res))
	assert.True(t, res.Compensated)
	assert.Empty(t, res.Moved)
	assert.Len(t, res.Restored, 2)
	assert.Equal(t, "S1", f.item(t, a).AssignedTo)

	recs, err := f.ledger.FindBulk(ctx, model.BulkFilter{Type: "vest"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 5, recs[0].Quantity)
	assert.Equal(t, "S1", recs[0].AssignedTo)
}

func TestAutoCompensation(t *testing.T) {
	bad := model.ItemRef{Category: model.CategoryWeapon, ID: "A-2"}
	f := newFixture(t, fixtureOpts{
		store: &flakyStore{fail: bad},
		opts:  []orchestrator.Option{orchestrator.CompensateOnPartialFailure(), orchestrator.WithConcurrency(1)},
	})
	ctx := context.Background()
	good := f.weapon(t, "A-1", "M4", "S1")
	f.weapon(t, "A-2", "M4", "S1")

	res, err := f.o.Reassign(ctx, admin, orchestrator.ReassignRequest{
		Selection: orchestrator.Selection{Items: []model.ItemRef{good, bad}},
		NewHolder: "S2",
	})
	require.NoError(t, err)
	require.Error(t, res.Err())
	assert.True(t, res.Compensated)
	assert.Empty(t, res.Moved, "restored items are not reported as moved")
	require.Len(t, res.Restored, 1)
	assert.Equal(t, good.String(), res.Restored[0].Ref)
	assert.Zero(t, res.Compensable())
	assert.Equal(t, audit.OutcomeSkipped, res.Notification.Outcome)
	assert.Equal(t, "S1", f.item(t, good).AssignedTo)
}

func TestFailedCompensationStaysAuditedAndRetryable(t *testing.T) {
	bad := model.ItemRef{Category: model.CategoryWeapon, ID: "A-2"}
	stuck := model.ItemRef{Category: model.CategoryWeapon, ID: "A-1"}
	flaky := &flakyStore{fail: bad, once: stuck}
	f := newFixture(t, fixtureOpts{
		store: flaky,
		opts:  []orchestrator.Option{orchestrator.CompensateOnPartialFailure(), orchestrator.WithConcurrency(1)},
	})
	ctx := context.Background()
	f.weapon(t, "A-1", "M4", "S1")
	f.weapon(t, "A-2", "M4", "S1")

	res, err := f.o.Reassign(ctx, admin, orchestrator.ReassignRequest{
		Selection: orchestrator.Selection{Items: []model.ItemRef{stuck, bad}},
		NewHolder: "S2",
	})
	require.NoError(t, err)
	require.Error(t, res.Err())

	assert.False(t, res.Compensated)
	assert.Equal(t, 1, res.Compensable())
	require.Len(t, res.Moved, 1)
	assert.Equal(t, stuck.String(), res.Moved[0].Ref)
	assert.Equal(t, "S2", f.item(t, stuck).AssignedTo)

	assert.Equal(t, audit.OutcomeDelivered, res.Notification.Outcome)
	e, err := f.sink.Load(ctx, res.Notification.EventID)
	require.NoError(t, err)
	require.Len(t, e.Items, 1)
	assert.Equal(t, stuck.String(), e.Items[0].Ref)

	flaky.heal()
	require.NoError(t, f.o.Compensate(ctx, res))
	assert.True(t, res.Compensated)
	assert.Empty(t, res.Moved)
	assert.Len(t, res.Restored, 1)
	assert.Equal(t, "S1", f.item(t, stuck).AssignedTo)
}

func TestResolvePreview(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	first := f.weapon(t, "G-7-1", "Glock 19", "S1")
	second := f.weapon(t, "G-7-2", "Glock 19", "S1")

	exp, err := f.o.Resolve(context.Background(), []model.ItemRef{first})
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ItemRef{first, second}, exp.Refs())
	assert.Equal(t, "S1", f.item(t, second).AssignedTo)
}
