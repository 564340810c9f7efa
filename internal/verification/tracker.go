// Package verification records daily attestations that equipment was
// physically present. A subject counts as verified on a day when at least
// one record for that day exists; duplicates are tolerated.
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/metrics"
	"github.com/erazemk/armory/internal/model"
)

// Store persists verification records.
type Store interface {
	CreateVerification(ctx context.Context, v model.Verification) error
	GetVerification(ctx context.Context, id string) (*model.Verification, error)
	FindVerifications(ctx context.Context, filter model.VerificationFilter) ([]model.Verification, error)
	ReplaceVerification(ctx context.Context, id string, checkedIDs []string, verifiedBy string, at time.Time) (*model.Verification, error)
	DeleteVerification(ctx context.Context, id string) error
}

// Reader is the read-only ledger view used to snapshot holdings.
type Reader interface {
	Item(ctx context.Context, ref model.ItemRef) (*model.SerializedItem, error)
	FindItems(ctx context.Context, filter model.ItemFilter) ([]model.SerializedItem, error)
}

// Mode selects how a second record for the same day and subject is stored.
type Mode string

const (
	// ModeAppend inserts every record. This is the default.
	ModeAppend Mode = "append"
	// ModeUpsert replaces the snapshot of the existing record.
	ModeUpsert Mode = "upsert"
)

// ParseMode validates a mode name. Empty means ModeAppend.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeUpsert:
		return ModeUpsert, nil
	}
	return "", fmt.Errorf("unknown verification mode %q", s)
}

// Tracker creates and queries verification records.
type Tracker struct {
	store    Store
	items    Reader
	location *time.Location
	mode     Mode
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithLocation sets the time zone calendar days are computed in.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) { t.location = loc }
}

// WithMode sets the storage mode.
func WithMode(m Mode) Option {
	return func(t *Tracker) { t.mode = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock sets the clock used to timestamp records. asOf only selects the
// calendar day.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker.
func New(store Store, items Reader, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		items:    items,
		location: time.Local,
		mode:     ModeAppend,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Location returns the time zone calendar days are computed in.
func (t *Tracker) Location() *time.Location {
	return t.location
}

// Day returns the calendar day asOf falls on.
func (t *Tracker) Day(asOf time.Time) string {
	return model.Day(asOf, t.location)
}

// VerifySoldier records that every serialized item currently held by
// soldierID was present on the day of asOf.
func (t *Tracker) VerifySoldier(ctx context.Context, asOf time.Time, soldierID, verifier string) (*model.Verification, error) {
	if soldierID == "" {
		return nil, apperr.Validation("soldier_id", "required")
	}
	if verifier == "" {
		return nil, apperr.Validation("verified_by", "required")
	}

	held, err := t.items.FindItems(ctx, model.ItemFilter{AssignedTo: soldierID})
	if err != nil {
		return nil, fmt.Errorf("listing items of %s: %w", soldierID, err)
	}

	var checked []string
	for _, it := range held {
		checked = append(checked, it.Ref().String())
		if it.Category == model.CategoryDroneSet {
			comps, err := t.components(ctx, it.ID)
			if err != nil {
				return nil, err
			}
			checked = append(checked, comps...)
		}
	}

	return t.record(ctx, asOf, model.SoldierSubject(soldierID), checked, verifier)
}

// VerifyItem records that an unassigned item outside any deposit was present
// on the day of asOf. A drone set's components are checked with it.
func (t *Tracker) VerifyItem(ctx context.Context, asOf time.Time, ref model.ItemRef, verifier string) (*model.Verification, error) {
	if verifier == "" {
		return nil, apperr.Validation("verified_by", "required")
	}

	item, err := t.items.Item(ctx, ref)
	if err != nil {
		return nil, err
	}
	if item.Assigned() {
		return nil, apperr.Validation("item", "%s is assigned to %s, verify the soldier instead", ref, item.AssignedTo)
	}
	if item.ArmoryStatus == model.StatusInDeposit {
		return nil, apperr.Validation("item", "%s is in deposit at %s", ref, item.DepositLocation)
	}
	if item.Category == model.CategoryDroneComponent && item.ParentID != "" {
		_, err := t.items.Item(ctx, model.ItemRef{Category: model.CategoryDroneSet, ID: item.ParentID})
		if err == nil {
			return nil, apperr.Validation("item", "%s is verified through drone set %s", ref, item.ParentID)
		}
		if !apperr.IsNotFound(err) {
			return nil, fmt.Errorf("looking up drone set %s: %w", item.ParentID, err)
		}
	}

	checked := []string{ref.String()}
	if item.Category == model.CategoryDroneSet {
		comps, err := t.components(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		checked = append(checked, comps...)
	}

	return t.record(ctx, asOf, model.ItemSubject(ref), checked, verifier)
}

func (t *Tracker) components(ctx context.Context, setID string) ([]string, error) {
	comps, err := t.items.FindItems(ctx, model.ItemFilter{Category: model.CategoryDroneComponent, ParentID: setID})
	if err != nil {
		return nil, fmt.Errorf("listing components of %s: %w", setID, err)
	}
	ids := make([]string, 0, len(comps))
	for _, c := range comps {
		ids = append(ids, c.Ref().String())
	}
	return ids, nil
}

func (t *Tracker) record(ctx context.Context, asOf time.Time, subject model.Subject, checked []string, verifier string) (*model.Verification, error) {
	if checked == nil {
		checked = []string{}
	}
	day := t.Day(asOf)
	now := t.now().UTC()

	if t.mode == ModeUpsert {
		existing, err := t.store.FindVerifications(ctx, model.VerificationFilter{Date: day, Subject: &subject})
		if err != nil {
			return nil, fmt.Errorf("finding existing verification: %w", err)
		}
		if len(existing) > 0 {
			v, err := t.store.ReplaceVerification(ctx, existing[0].ID, checked, verifier, now)
			if err != nil {
				return nil, fmt.Errorf("replacing verification: %w", err)
			}
			t.metrics.IncVerification(string(subject.Kind), "replace")
			return v, nil
		}
	}

	v := model.Verification{
		ID:         uuid.NewString(),
		Date:       day,
		Subject:    subject,
		CheckedIDs: checked,
		VerifiedBy: verifier,
		CreatedAt:  now,
	}
	if err := t.store.CreateVerification(ctx, v); err != nil {
		return nil, fmt.Errorf("creating verification: %w", err)
	}
	t.metrics.IncVerification(string(subject.Kind), "create")

	t.logger.InfoContext(ctx, "verification recorded",
		"id", v.ID,
		"date", v.Date,
		"subject", string(subject.Kind),
		"checked", len(checked),
		"verified_by", verifier,
	)
	return &v, nil
}

// IsSoldierVerified reports whether any record for soldierID exists on the
// day of asOf.
func (t *Tracker) IsSoldierVerified(ctx context.Context, asOf time.Time, soldierID string) (bool, error) {
	subject := model.SoldierSubject(soldierID)
	recs, err := t.store.FindVerifications(ctx, model.VerificationFilter{Date: t.Day(asOf), Subject: &subject})
	if err != nil {
		return false, fmt.Errorf("checking soldier verification: %w", err)
	}
	return len(recs) > 0, nil
}

// IsItemVerified reports whether any record on the day of asOf lists ref
// among its checked items.
func (t *Tracker) IsItemVerified(ctx context.Context, asOf time.Time, ref model.ItemRef) (bool, error) {
	recs, err := t.store.FindVerifications(ctx, model.VerificationFilter{Date: t.Day(asOf), CheckedID: ref.String()})
	if err != nil {
		return false, fmt.Errorf("checking item verification: %w", err)
	}
	return len(recs) > 0, nil
}

// Undo hard-deletes one record.
func (t *Tracker) Undo(ctx context.Context, id string) error {
	v, err := t.store.GetVerification(ctx, id)
	if apperr.IsNotFound(err) {
		return apperr.NotFound("verification", id)
	}
	if err != nil {
		return fmt.Errorf("getting verification: %w", err)
	}
	if err := t.store.DeleteVerification(ctx, id); err != nil {
		if apperr.IsNotFound(err) {
			return apperr.NotFound("verification", id)
		}
		return fmt.Errorf("deleting verification: %w", err)
	}
	t.metrics.IncVerification(string(v.Subject.Kind), "undo")
	t.logger.InfoContext(ctx, "verification undone", "id", id, "date", v.Date)
	return nil
}

// History returns every record filed under subject, oldest first.
func (t *Tracker) History(ctx context.Context, subject model.Subject) ([]model.Verification, error) {
	recs, err := t.store.FindVerifications(ctx, model.VerificationFilter{Subject: &subject})
	if err != nil {
		return nil, fmt.Errorf("listing verification history: %w", err)
	}
	return recs, nil
}

// SoldierStatus is one holder's line in a Summary.
type SoldierStatus struct {
	SoldierID string `json:"soldier_id"`
	Items     int    `json:"items"`
	Records   int    `json:"records"`
	Verified  bool   `json:"verified"`
}

// ItemStatus is one pool item's line in a Summary.
type ItemStatus struct {
	Item     model.ItemRef `json:"item"`
	Type     string        `json:"type"`
	Verified bool          `json:"verified"`
}

// Summary is the verification state of one day.
type Summary struct {
	Date     string          `json:"date"`
	Soldiers []SoldierStatus `json:"soldiers"`
	Pool     []ItemStatus    `json:"pool"`
}

// Unverified counts the holders and pool items still to check.
func (s *Summary) Unverified() int {
	n := 0
	for _, st := range s.Soldiers {
		if !st.Verified {
			n++
		}
	}
	for _, it := range s.Pool {
		if !it.Verified {
			n++
		}
	}
	return n
}

// Summary reports, for the day of asOf, which holders and which pool items
// needing direct verification have been verified.
func (t *Tracker) Summary(ctx context.Context, asOf time.Time) (*Summary, error) {
	day := t.Day(asOf)

	items, err := t.items.FindItems(ctx, model.ItemFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	recs, err := t.store.FindVerifications(ctx, model.VerificationFilter{Date: day})
	if err != nil {
		return nil, fmt.Errorf("listing verifications: %w", err)
	}

	soldierRecords := make(map[string]int)
	checked := make(map[string]bool)
	for _, r := range recs {
		if r.Subject.Kind == model.SubjectSoldier {
			soldierRecords[r.Subject.SoldierID]++
		}
		for _, id := range r.CheckedIDs {
			checked[id] = true
		}
	}

	sets := make(map[string]bool)
	for _, it := range items {
		if it.Category == model.CategoryDroneSet {
			sets[it.ID] = true
		}
	}

	holdings := make(map[string]int)
	sum := &Summary{Date: day, Soldiers: []SoldierStatus{}, Pool: []ItemStatus{}}
	for _, it := range items {
		if it.Assigned() {
			holdings[it.AssignedTo]++
			continue
		}
		if it.ArmoryStatus == model.StatusInDeposit {
			continue
		}
		if it.Category == model.CategoryDroneComponent && sets[it.ParentID] {
			continue
		}
		sum.Pool = append(sum.Pool, ItemStatus{
			Item:     it.Ref(),
			Type:     it.Type,
			Verified: checked[it.Ref().String()],
		})
	}

	for soldier, n := range holdings {
		sum.Soldiers = append(sum.Soldiers, SoldierStatus{
			SoldierID: soldier,
			Items:     n,
			Records:   soldierRecords[soldier],
			Verified:  soldierRecords[soldier] > 0,
		})
	}
	sort.Slice(sum.Soldiers, func(i, j int) bool { return sum.Soldiers[i].SoldierID < sum.Soldiers[j].SoldierID })

	return sum, nil
}
