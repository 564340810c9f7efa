package custody

import "github.com/google/uuid"

// NewBulkID returns an identifier for a new bulk record.
func NewBulkID() string {
	return uuid.NewString()
}
