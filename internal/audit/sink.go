package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/armory/internal/apperr"
)

// Sink is the audit trail. Record persists the event and forwards it to the
// notification channel.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Notifier delivers an event to people or systems outside the armory.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// EventStore persists encoded events.
type EventStore interface {
	SaveAuditEvent(ctx context.Context, id, action, subjectID string, payload []byte, occurredAt time.Time) error
	LoadAuditEvent(ctx context.Context, id string) ([]byte, error)
}

// LogSink stores CBOR-encoded events and then notifies.
type LogSink struct {
	store    EventStore
	notifier Notifier
}

// NewLogSink creates a LogSink. notifier may be nil.
func NewLogSink(store EventStore, notifier Notifier) *LogSink {
	return &LogSink{store: store, notifier: notifier}
}

// NotifyError is returned by Record when the event was stored but the
// notification after it failed.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string { return "notifying: " + e.Err.Error() }

func (e *NotifyError) Unwrap() error { return e.Err }

// Record persists e, then notifies. A failed notification is reported as a
// *NotifyError; the event is in the trail regardless.
func (s *LogSink) Record(ctx context.Context, e Event) error {
	payload, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	if err := s.store.SaveAuditEvent(ctx, e.ID, string(e.Action), e.SubjectID, payload, e.OccurredAt); err != nil {
		return fmt.Errorf("saving audit event: %w", err)
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, e); err != nil {
			return &NotifyError{Err: err}
		}
	}
	return nil
}

// Load returns a stored event.
func (s *LogSink) Load(ctx context.Context, id string) (*Event, error) {
	payload, err := s.store.LoadAuditEvent(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("audit event", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading audit event: %w", err)
	}
	e, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding audit event %s: %w", id, err)
	}
	return e, nil
}
