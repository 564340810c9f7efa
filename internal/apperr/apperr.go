// Package apperr defines the error taxonomy of the custody engine.
//
// Stores return ErrNotFound (optionally wrapped) for missing documents. The
// custody layer translates that into *NotFoundError so callers can report
// which item was stale. Validation and permission errors are raised before
// any mutation happens; PartialFailure and NotificationFailure describe
// batches whose mutations were at least partly applied.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by stores when a document does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input or an inconsistent state
// combination.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a *ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown or stale identifier.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a *NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// PermissionError reports that the caller may not perform an action.
type PermissionError struct {
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("not permitted to %s: %s", e.Action, e.Reason)
}

// ItemFailure is one failed mutation inside a batch.
type ItemFailure struct {
	Item string `json:"item"`
	Err  error  `json:"-"`
}

// MarshalJSON renders the failure with its error message.
func (f ItemFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Item  string `json:"item"`
		Error string `json:"error"`
	}{f.Item, msg})
}

// PartialFailure reports that some mutations of a batch failed. Completed
// mutations are kept.
type PartialFailure struct {
	Total  int
	Failed []ItemFailure
}

func (e *PartialFailure) Error() string {
	items := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		items = append(items, fmt.Sprintf("%s (%v)", f.Item, f.Err))
	}
	return fmt.Sprintf("%d of %d items failed: %s", len(e.Failed), e.Total, strings.Join(items, ", "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// NotificationFailure reports that custody changed but the audit trail or
// notification did not go through.
type NotificationFailure struct {
	Stage string
	Err   error
}

func (e *NotificationFailure) Error() string {
	return fmt.Sprintf("notification failed at %s: %v", e.Stage, e.Err)
}

func (e *NotificationFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPermission reports whether err is or wraps a *PermissionError.
func IsPermission(err error) bool {
	var p *PermissionError
	return errors.As(err, &p)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
