package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/metrics"
)

// Outcome is how far an event got.
type Outcome string

// Outcomes.
const (
	// OutcomeDelivered: recorded in the audit trail and notified.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeRecorded: recorded in the audit trail, but the notification
	// failed. The event is not held.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeFallback: the audit trail failed; the event is held in memory
	// and was notified directly.
	OutcomeFallback Outcome = "fallback"
	// OutcomeUnavailable: neither path worked; the event is held in memory.
	OutcomeUnavailable Outcome = "unavailable"
	// OutcomeSkipped: nothing moved, so no event was published.
	OutcomeSkipped Outcome = "skipped"
)

// Delivery reports the outcome of publishing one event.
type Delivery struct {
	Outcome Outcome `json:"outcome"`
	EventID string  `json:"event_id"`
	Err     error   `json:"-"`
}

// DefaultMaxPending bounds the in-memory fallback buffer.
const DefaultMaxPending = 1000

// Publisher sends events to the audit sink, falling back to a direct
// notifier and an in-memory buffer.
type Publisher struct {
	sink    Sink
	direct  Notifier
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.Mutex
	pending    []Event
	maxPending int
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

// WithPublisherMetrics sets the metrics collector.
func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithMaxPending bounds the fallback buffer. The oldest events are dropped
// first.
func WithMaxPending(n int) PublisherOption {
	return func(p *Publisher) { p.maxPending = n }
}

// NewPublisher creates a Publisher. direct may be nil.
func NewPublisher(sink Sink, direct Notifier, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sink:       sink,
		direct:     direct,
		logger:     slog.Default(),
		now:        time.Now,
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish records e. It never fails; the Delivery says what happened.
func (p *Publisher) Publish(ctx context.Context, e Event) Delivery {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.now().UTC()
	}
	if len(e.Signature) > 0 && e.SignatureDigest == "" {
		e.SignatureDigest = SignatureDigest(e.Signature)
	}

	d := Delivery{EventID: e.ID}

	sinkErr := p.sink.Record(ctx, e)
	if sinkErr == nil {
		d.Outcome = OutcomeDelivered
		p.metrics.IncAuditOutcome(string(d.Outcome))
		return d
	}

	var notifyErr *NotifyError
	if errors.As(sinkErr, &notifyErr) {
		d.Outcome = OutcomeRecorded
		d.Err = &apperr.NotificationFailure{Stage: "notify", Err: notifyErr.Err}
		p.logger.WarnContext(ctx, "custody event recorded but not notified",
			"event", e.ID,
			"action", string(e.Action),
			"error", notifyErr.Err,
		)
		p.metrics.IncAuditOutcome(string(d.Outcome))
		return d
	}

	p.logger.WarnContext(ctx, "audit trail failed, holding event in memory",
		"event", e.ID,
		"action", string(e.Action),
		"error", sinkErr,
	)
	p.hold(e)

	directErr := errors.New("no direct notifier configured")
	if p.direct != nil {
		directErr = p.direct.Notify(ctx, e)
	}
	if directErr == nil {
		d.Outcome = OutcomeFallback
		d.Err = &apperr.NotificationFailure{Stage: "audit", Err: sinkErr}
	} else {
		d.Outcome = OutcomeUnavailable
		d.Err = &apperr.NotificationFailure{Stage: "notify", Err: errors.Join(sinkErr, directErr)}
		p.logger.ErrorContext(ctx, "custody event could not be delivered",
			"event", e.ID,
			"error", directErr,
		)
	}
	p.metrics.IncAuditOutcome(string(d.Outcome))
	return d
}

func (p *Publisher) hold(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, e)
	if p.maxPending > 0 && len(p.pending) > p.maxPending {
		p.pending = p.pending[len(p.pending)-p.maxPending:]
	}
	p.metrics.SetAuditPending(len(p.pending))
}

// Pending returns a copy of the events held in memory.
func (p *Publisher) Pending() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.pending...)
}

// PendingEvent looks up one held event.
func (p *Publisher) PendingEvent(id string) (*Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.pending {
		if p.pending[i].ID == id {
			e := p.pending[i]
			return &e, true
		}
	}
	return nil, false
}

// Flush retries held events against the audit sink. Events that still fail
// to be stored stay held; an event that was stored but not notified counts
// as recorded. It returns how many were recorded.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	var kept []Event
	var errs []error
	for _, e := range batch {
		err := p.sink.Record(ctx, e)
		var notifyErr *NotifyError
		if errors.As(err, &notifyErr) {
			p.logger.WarnContext(ctx, "held event recorded but not notified", "event", e.ID, "error", notifyErr.Err)
			continue
		}
		if err != nil {
			kept = append(kept, e)
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	p.pending = append(kept, p.pending...)
	n := len(p.pending)
	p.mu.Unlock()
	p.metrics.SetAuditPending(n)

	return len(batch) - len(kept), errors.Join(errs...)
}
