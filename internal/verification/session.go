package verification

import (
	"context"
	"time"

	"github.com/erazemk/armory/internal/model"
)

// Session pins the verification day for a sequence of calls, so a session
// that runs past midnight keeps filing records under the day it started.
type Session struct {
	tracker *Tracker
	asOf    time.Time
}

// Session starts a session at now.
func (t *Tracker) Session(now time.Time) *Session {
	return &Session{tracker: t, asOf: now}
}

// AsOf returns the pinned instant.
func (s *Session) AsOf() time.Time { return s.asOf }

// Day returns the pinned calendar day.
func (s *Session) Day() string { return s.tracker.Day(s.asOf) }

// VerifySoldier records a check of everything the soldier holds, filed
// under the pinned day.
func (s *Session) VerifySoldier(ctx context.Context, soldierID, verifier string) (*model.Verification, error) {
	return s.tracker.VerifySoldier(ctx, s.asOf, soldierID, verifier)
}

// VerifyItem records a check of a pool item under the pinned day.
func (s *Session) VerifyItem(ctx context.Context, ref model.ItemRef, verifier string) (*model.Verification, error) {
	return s.tracker.VerifyItem(ctx, s.asOf, ref, verifier)
}

// IsSoldierVerified reports whether the soldier was verified on the pinned
// day.
func (s *Session) IsSoldierVerified(ctx context.Context, soldierID string) (bool, error) {
	return s.tracker.IsSoldierVerified(ctx, s.asOf, soldierID)
}

// IsItemVerified reports whether the item was checked on the pinned day.
func (s *Session) IsItemVerified(ctx context.Context, ref model.ItemRef) (bool, error) {
	return s.tracker.IsItemVerified(ctx, s.asOf, ref)
}

// Summary lists what is still unverified on the pinned day.
func (s *Session) Summary(ctx context.Context) (*Summary, error) {
	return s.tracker.Summary(ctx, s.asOf)
}

// Undo deletes a verification record. It does not depend on the pinned day.
func (s *Session) Undo(ctx context.Context, id string) error {
	return s.tracker.Undo(ctx, id)
}
