package orchestrator

import (
	"github.com/erazemk/armory/internal/model"
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID   int64
	Username string
	Role     string
	Division string
}

// BulkSelection selects a bulk record. A zero Quantity means the whole
// record.
type BulkSelection struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity,omitempty"`
}

// Selection is what the caller picked before pairing expansion.
type Selection struct {
	Items []model.ItemRef `json:"items,omitempty"`
	Bulk  []BulkSelection `json:"bulk,omitempty"`
}

// Empty reports whether nothing was selected.
func (s Selection) Empty() bool {
	return len(s.Items) == 0 && len(s.Bulk) == 0
}

// DepositRequest checks items into a deposit. With ToPool the assignment
// is cleared as well.
type DepositRequest struct {
	Selection Selection             `json:"selection"`
	Location  model.DepositLocation `json:"location"`
	ToPool    bool                  `json:"to_pool,omitempty"`
	Signature []byte                `json:"signature,omitempty"`
}

// ReleaseRequest takes items out of their deposit.
type ReleaseRequest struct {
	Selection Selection `json:"selection"`
	Signature []byte    `json:"signature,omitempty"`
}

// ReassignRequest hands items to another soldier. An empty NewHolder
// returns them to the pool.
type ReassignRequest struct {
	Selection Selection `json:"selection"`
	NewHolder string    `json:"new_holder,omitempty"`
}

// FullReleaseRequest clears a soldier's custody. An empty Selection means
// everything the soldier holds. BulkQuantities limits how many units of a
// bulk record are released; absent records are released whole.
type FullReleaseRequest struct {
	SoldierID      string                `json:"soldier_id"`
	Selection      Selection             `json:"selection,omitempty"`
	ToDeposit      bool                  `json:"to_deposit,omitempty"`
	Location       model.DepositLocation `json:"location,omitempty"`
	BulkQuantities map[string]int        `json:"bulk_quantities,omitempty"`
	Signature      []byte                `json:"signature,omitempty"`
}
