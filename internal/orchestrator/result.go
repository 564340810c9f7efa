package orchestrator

import (
	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/audit"
	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/pairing"
	"github.com/erazemk/armory/internal/split"
)

// entry is one compensation log record: the prior state of an item, or the
// outcome of a bulk release, plus what was reported as moved.
type entry struct {
	item  *model.SerializedItem
	bulk  *split.Outcome
	moved audit.EventItem
}

// Result separates what moved in custody from what could be notified.
type Result struct {
	Action       audit.Action         `json:"action"`
	Moved        []audit.EventItem    `json:"moved"`
	Restored     []audit.EventItem    `json:"restored,omitempty"`
	Failed       []apperr.ItemFailure `json:"failed,omitempty"`
	Added        []model.ItemRef      `json:"added,omitempty"`
	Advisories   []pairing.Advisory   `json:"advisories,omitempty"`
	Notification audit.Delivery       `json:"notification"`
	Compensated  bool                 `json:"compensated,omitempty"`

	total int
	log   []entry
}

// Err returns a *apperr.PartialFailure when any item failed.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &apperr.PartialFailure{Total: r.total, Failed: r.Failed}
}

// NotificationErr returns the audit/notification failure, if any. It is
// independent of Err.
func (r *Result) NotificationErr() error {
	return r.Notification.Err
}

// Compensable reports how many applied mutations can still be restored.
func (r *Result) Compensable() int {
	return len(r.log)
}
