package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundUnwrapsSentinel(t *testing.T) {
	err := fmt.Errorf("updating item: %w", NotFound("weapon", "RIFLE-1"))

	assert.True(t, IsNotFound(err))
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "RIFLE-1", nf.ID)
}

func TestPartialFailureExposesItemErrors(t *testing.T) {
	err := &PartialFailure{
		Total: 3,
		Failed: []ItemFailure{
			{Item: "weapon/A-1", Err: NotFound("weapon", "A-1")},
		},
	}

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "1 of 3 items failed")
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsValidation(Validation("quantity", "must be positive")))
	assert.True(t, IsPermission(&PermissionError{Action: "deposit", Reason: "role user"}))
	assert.False(t, IsPermission(errors.New("boom")))

	nf := &NotificationFailure{Stage: "audit", Err: errors.New("down")}
	assert.EqualError(t, nf, "notification failed at audit: down")
}
