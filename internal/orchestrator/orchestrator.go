// Package orchestrator is the entry point for custody changes. It expands
// a selection with its pairing companions, splits partial bulk quantities,
// applies one ledger mutation per item concurrently and publishes an audit
// event. Mutations are independent: a failed item does not stop or undo the
// others, and audit failures never undo custody.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/audit"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/directory"
	"github.com/erazemk/armory/internal/imaging"
	"github.com/erazemk/armory/internal/metrics"
	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/pairing"
	"github.com/erazemk/armory/internal/split"
)

// DefaultConcurrency bounds the mutations of one batch in flight at once.
const DefaultConcurrency = 8

// Orchestrator coordinates custody batches.
type Orchestrator struct {
	ledger    *custody.Ledger
	resolver  *pairing.Resolver
	splitter  *split.Engine
	directory directory.Directory
	publisher *audit.Publisher

	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	compensate  bool
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithConcurrency bounds in-flight mutations per batch.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// CompensateOnPartialFailure makes a batch with any failed item restore
// the items that did move.
func CompensateOnPartialFailure() Option {
	return func(o *Orchestrator) { o.compensate = true }
}

// New creates an Orchestrator.
func New(ledger *custody.Ledger, resolver *pairing.Resolver, splitter *split.Engine, dir directory.Directory, publisher *audit.Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:      ledger,
		resolver:    resolver,
		splitter:    splitter,
		directory:   dir,
		publisher:   publisher,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve previews the pairing expansion of refs without changing anything.
func (o *Orchestrator) Resolve(ctx context.Context, refs []model.ItemRef) (*pairing.Expansion, error) {
	return o.resolver.Expand(ctx, refs)
}

// Deposit checks the selection into req.Location.
func (o *Orchestrator) Deposit(ctx context.Context, actor Actor, req DepositRequest) (*Result, error) {
	if err := checkRole(actor, "deposit"); err != nil {
		return nil, err
	}
	if req.Selection.Empty() {
		return nil, apperr.Validation("selection", "nothing selected")
	}
	t := model.DepositTransition(req.Location, req.ToPool)
	if err := custody.CheckTransition(t); err != nil {
		return nil, err
	}

	p, err := o.prepare(ctx, audit.ActionDeposit, t, req.Selection, req.Signature)
	if err != nil {
		return nil, err
	}
	if err := o.checkScope(ctx, actor, "deposit", p.holders(), p.divisions()); err != nil {
		return nil, err
	}
	p.subject = p.commonHolder()
	return o.execute(ctx, actor, p), nil
}

// Release takes the selection out of its deposit. Assignments are kept.
func (o *Orchestrator) Release(ctx context.Context, actor Actor, req ReleaseRequest) (*Result, error) {
	if err := checkRole(actor, "release"); err != nil {
		return nil, err
	}
	if req.Selection.Empty() {
		return nil, apperr.Validation("selection", "nothing selected")
	}

	p, err := o.prepare(ctx, audit.ActionRelease, model.ReleaseTransition(), req.Selection, req.Signature)
	if err != nil {
		return nil, err
	}
	if err := o.checkScope(ctx, actor, "release", p.holders(), p.divisions()); err != nil {
		return nil, err
	}
	p.subject = p.commonHolder()
	return o.execute(ctx, actor, p), nil
}

// Reassign hands the selection to req.NewHolder, or to the pool. Armory
// state is untouched.
func (o *Orchestrator) Reassign(ctx context.Context, actor Actor, req ReassignRequest) (*Result, error) {
	if err := checkRole(actor, "reassign"); err != nil {
		return nil, err
	}
	if req.Selection.Empty() {
		return nil, apperr.Validation("selection", "nothing selected")
	}
	if req.NewHolder != "" {
		if _, err := o.directory.Soldier(ctx, req.NewHolder); err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.Validation("new_holder", "unknown soldier %q", req.NewHolder)
			}
			return nil, fmt.Errorf("resolving new holder: %w", err)
		}
	}

	p, err := o.prepare(ctx, audit.ActionReassign, model.ReassignTransition(req.NewHolder), req.Selection, nil)
	if err != nil {
		return nil, err
	}
	holders := p.holders()
	if req.NewHolder != "" {
		holders = append(holders, req.NewHolder)
	}
	if err := o.checkScope(ctx, actor, "reassign", holders, p.divisions()); err != nil {
		return nil, err
	}
	p.subject = req.NewHolder
	return o.execute(ctx, actor, p), nil
}

// FullRelease clears the soldier's assignment on the selected items, or on
// everything the soldier holds, and sets their armory state.
func (o *Orchestrator) FullRelease(ctx context.Context, actor Actor, req FullReleaseRequest) (*Result, error) {
	if err := checkRole(actor, "release soldier"); err != nil {
		return nil, err
	}
	if req.SoldierID == "" {
		return nil, apperr.Validation("soldier_id", "required")
	}
	if !req.ToDeposit && req.Location != "" {
		return nil, apperr.Validation("location", "given without to_deposit")
	}
	t := model.FullReleaseTransition(req.ToDeposit, req.Location)
	if err := custody.CheckTransition(t); err != nil {
		return nil, err
	}
	if err := o.checkScope(ctx, actor, "release soldier", []string{req.SoldierID}, nil); err != nil {
		return nil, err
	}

	sel, err := o.holdings(ctx, req)
	if err != nil {
		return nil, err
	}
	if sel.Empty() {
		return nil, apperr.Validation("soldier_id", "%s holds no equipment", req.SoldierID)
	}

	p, err := o.prepare(ctx, audit.ActionFullRelease, t, sel, req.Signature)
	if err != nil {
		return nil, err
	}
	for _, it := range p.items {
		if it.AssignedTo != req.SoldierID {
			return nil, apperr.Validation("selection", "%s is not held by %s", it.Ref(), req.SoldierID)
		}
	}
	for _, b := range p.bulk {
		if b.rec.AssignedTo != req.SoldierID {
			return nil, apperr.Validation("selection", "bulk record %s is not held by %s", b.rec.ID, req.SoldierID)
		}
	}
	p.subject = req.SoldierID
	return o.execute(ctx, actor, p), nil
}

// holdings turns a full-release request into a selection.
func (o *Orchestrator) holdings(ctx context.Context, req FullReleaseRequest) (Selection, error) {
	sel := req.Selection
	if sel.Empty() {
		items, err := o.ledger.ItemsHeldBy(ctx, req.SoldierID)
		if err != nil {
			return Selection{}, err
		}
		for _, it := range items {
			sel.Items = append(sel.Items, it.Ref())
		}
		recs, err := o.ledger.BulkHeldBy(ctx, req.SoldierID)
		if err != nil {
			return Selection{}, err
		}
		for _, rec := range recs {
			sel.Bulk = append(sel.Bulk, BulkSelection{ID: rec.ID})
		}
	}

	for i := range sel.Bulk {
		if q, ok := req.BulkQuantities[sel.Bulk[i].ID]; ok && sel.Bulk[i].Quantity == 0 {
			sel.Bulk[i].Quantity = q
			if q == 0 {
				return Selection{}, apperr.Validation("bulk_quantities", "quantity for %s must be at least 1", sel.Bulk[i].ID)
			}
		}
	}
	return sel, nil
}

// checkRole rejects roles that may not change custody.
func checkRole(actor Actor, action string) error {
	if !model.RoleAtLeast(actor.Role, model.RoleManager) {
		return &apperr.PermissionError{Action: action, Reason: fmt.Sprintf("role %q cannot change custody", actor.Role)}
	}
	return nil
}

// checkScope limits a division manager to soldiers and pool items of that
// division.
func (o *Orchestrator) checkScope(ctx context.Context, actor Actor, action string, soldiers, divisions []string) error {
	if actor.Role == model.RoleAdmin || actor.Division == "" {
		return nil
	}

	for _, id := range dedupe(soldiers) {
		s, err := o.directory.Soldier(ctx, id)
		if apperr.IsNotFound(err) {
			return &apperr.PermissionError{Action: action, Reason: fmt.Sprintf("soldier %s is not in the directory", id)}
		}
		if err != nil {
			return fmt.Errorf("resolving soldier %s: %w", id, err)
		}
		if s.Division != actor.Division {
			return &apperr.PermissionError{Action: action, Reason: fmt.Sprintf("soldier %s belongs to division %q", id, s.Division)}
		}
	}
	for _, div := range dedupe(divisions) {
		if div != actor.Division {
			return &apperr.PermissionError{Action: action, Reason: fmt.Sprintf("item belongs to division %q", div)}
		}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type bulkTask struct {
	rec model.BulkRecord
	qty int
}

// plan is a validated batch ready to dispatch.
type plan struct {
	action     audit.Action
	transition model.Transition
	items      []model.SerializedItem
	bulk       []bulkTask
	missing    []apperr.ItemFailure
	added      []model.ItemRef
	advisories []pairing.Advisory
	signature  []byte
	subject    string
}

func (p *plan) holders() []string {
	var out []string
	for _, it := range p.items {
		out = append(out, it.AssignedTo)
	}
	for _, b := range p.bulk {
		out = append(out, b.rec.AssignedTo)
	}
	return out
}

// divisions lists the divisions of unassigned items; assigned items are
// scoped through their holder.
func (p *plan) divisions() []string {
	var out []string
	for _, it := range p.items {
		if !it.Assigned() {
			out = append(out, it.Division)
		}
	}
	for _, b := range p.bulk {
		if b.rec.AssignedTo == "" {
			out = append(out, b.rec.Division)
		}
	}
	return out
}

// commonHolder returns the holder shared by every item, or "".
func (p *plan) commonHolder() string {
	hs := dedupe(p.holders())
	if len(hs) == 1 {
		return hs[0]
	}
	return ""
}

// prepare expands and validates a selection. Unknown ids become per-item
// failures; invalid quantities and signatures fail the whole batch.
func (o *Orchestrator) prepare(ctx context.Context, action audit.Action, t model.Transition, sel Selection, signature []byte) (*plan, error) {
	p := &plan{action: action, transition: t}

	if len(signature) > 0 {
		sig, err := imaging.NormalizeSignature(signature)
		if err != nil {
			return nil, apperr.Validation("signature", "%v", err)
		}
		p.signature = sig.Data
	}

	if len(sel.Items) > 0 {
		exp, err := o.resolver.Expand(ctx, sel.Items)
		if err != nil {
			return nil, err
		}
		p.items = exp.Items
		p.added = exp.Added
		p.advisories = exp.Advisories
		for _, ref := range exp.Missing {
			p.missing = append(p.missing, apperr.ItemFailure{
				Item: ref.String(),
				Err:  apperr.NotFound(string(ref.Category), ref.ID),
			})
		}
	}

	seen := make(map[string]bool)
	for _, b := range sel.Bulk {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true

		rec, err := o.ledger.Bulk(ctx, b.ID)
		if apperr.IsNotFound(err) {
			p.missing = append(p.missing, apperr.ItemFailure{Item: bulkLabel(b.ID), Err: err})
			continue
		}
		if err != nil {
			return nil, err
		}

		qty := b.Quantity
		if qty == 0 {
			qty = rec.Quantity
		}
		if qty < 1 || qty > rec.Quantity {
			return nil, apperr.Validation("quantity", "%s: must be between 1 and %d, got %d", bulkLabel(b.ID), rec.Quantity, b.Quantity)
		}
		p.bulk = append(p.bulk, bulkTask{rec: *rec, qty: qty})
	}
	return p, nil
}

func bulkLabel(id string) string {
	return "bulk/" + id
}

// outcome is the result of one dispatched mutation.
type outcome struct {
	label string
	moved audit.EventItem
	undo  *entry
	err   error
}

func (o *Orchestrator) execute(ctx context.Context, actor Actor, p *plan) *Result {
	start := time.Now()
	res := &Result{
		Action:     p.action,
		Moved:      []audit.EventItem{},
		Added:      p.added,
		Advisories: p.advisories,
	}

	// Once started, a batch runs to completion even if the caller goes away.
	runCtx := context.WithoutCancel(ctx)

	outcomes := make([]outcome, len(p.items)+len(p.bulk))
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for i, it := range p.items {
		g.Go(func() error {
			outcomes[i] = o.applyItem(runCtx, it, p.transition)
			return nil
		})
	}
	for j, b := range p.bulk {
		idx := len(p.items) + j
		g.Go(func() error {
			outcomes[idx] = o.applyBulk(runCtx, b, p.transition)
			return nil
		})
	}
	_ = g.Wait()

	res.Failed = append(res.Failed, p.missing...)
	for _, oc := range outcomes {
		if oc.err != nil {
			res.Failed = append(res.Failed, apperr.ItemFailure{Item: oc.label, Err: oc.err})
			o.logger.WarnContext(ctx, "custody mutation failed", "item", oc.label, "error", oc.err)
			continue
		}
		res.Moved = append(res.Moved, oc.moved)
		undo := *oc.undo
		undo.moved = oc.moved
		res.log = append(res.log, undo)
	}
	res.total = len(outcomes) + len(p.missing)

	if o.compensate && len(res.Failed) > 0 && len(res.log) > 0 {
		if err := o.Compensate(runCtx, res); err != nil {
			o.logger.ErrorContext(ctx, "compensation incomplete", "action", string(p.action), "error", err)
		}
	}

	// Whatever compensation could not restore is still moved and audited.
	if len(res.Moved) > 0 {
		res.Notification = o.publisher.Publish(runCtx, audit.Event{
			Action:      p.action,
			SubjectID:   p.subject,
			SubjectName: o.subjectName(runCtx, p.subject),
			Actor:       actor.Username,
			Items:       res.Moved,
			Signature:   p.signature,
		})
	} else {
		res.Notification = audit.Delivery{Outcome: audit.OutcomeSkipped}
	}

	o.metrics.ObserveBatch(string(p.action), time.Since(start))
	o.logger.InfoContext(ctx, "custody batch applied",
		"action", string(p.action),
		"actor", actor.Username,
		"moved", len(res.Moved),
		"failed", len(res.Failed),
		"added", len(res.Added),
		"notification", string(res.Notification.Outcome),
	)
	return res
}

func (o *Orchestrator) subjectName(ctx context.Context, id string) string {
	if id == "" || o.directory == nil {
		return ""
	}
	return directory.DisplayName(ctx, o.directory, id)
}

func (o *Orchestrator) applyItem(ctx context.Context, prior model.SerializedItem, t model.Transition) outcome {
	oc := outcome{label: prior.Ref().String()}
	item, err := o.ledger.Apply(ctx, prior.Ref(), t)
	if err != nil {
		oc.err = err
		return oc
	}
	oc.moved = audit.EventItem{
		Ref:             oc.label,
		Type:            item.Type,
		AssignedTo:      item.AssignedTo,
		ArmoryStatus:    string(item.ArmoryStatus),
		DepositLocation: string(item.DepositLocation),
	}
	oc.undo = &entry{item: &prior}
	return oc
}

func (o *Orchestrator) applyBulk(ctx context.Context, b bulkTask, t model.Transition) outcome {
	oc := outcome{label: bulkLabel(b.rec.ID)}
	out, err := o.splitter.Release(ctx, b.rec, b.qty, t)
	if err != nil {
		oc.err = err
		return oc
	}
	moved := out.Original
	if out.Fragment != nil {
		moved = *out.Fragment
	}
	oc.moved = audit.EventItem{
		Ref:             bulkLabel(moved.ID),
		Type:            moved.Type,
		Quantity:        moved.Quantity,
		AssignedTo:      moved.AssignedTo,
		ArmoryStatus:    string(moved.ArmoryStatus),
		DepositLocation: string(moved.DepositLocation),
	}
	oc.undo = &entry{bulk: out}
	return oc
}

// Compensate restores every mutation recorded in res, newest first.
// Restored entries move from Moved to Restored. Entries that fail to restore
// stay in Moved and in the log, so Compensate can be called again; the
// result counts as compensated only once the log is empty.
func (o *Orchestrator) Compensate(ctx context.Context, res *Result) error {
	var errs []error
	var kept []entry
	for i := len(res.log) - 1; i >= 0; i-- {
		e := res.log[i]
		var err error
		switch {
		case e.item != nil:
			if _, rerr := o.ledger.Restore(ctx, *e.item); rerr != nil {
				err = fmt.Errorf("restoring %s: %w", e.item.Ref(), rerr)
			}
		case e.bulk != nil:
			if rerr := o.splitter.Undo(ctx, *e.bulk); rerr != nil {
				err = fmt.Errorf("restoring bulk record %s: %w", e.bulk.Prior.ID, rerr)
			}
		}
		if err != nil {
			errs = append(errs, err)
			kept = append(kept, e)
			continue
		}
		res.Restored = append(res.Restored, e.moved)
	}
	slices.Reverse(kept)

	res.log = kept
	res.Moved = make([]audit.EventItem, 0, len(kept))
	for _, e := range kept {
		res.Moved = append(res.Moved, e.moved)
	}
	res.Compensated = len(kept) == 0
	return errors.Join(errs...)
}
