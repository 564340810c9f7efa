package model

import "time"

// BulkRecord is a quantity of non-serialized equipment. Several records of
// the same type may coexist for the same holder; identity is the record.
type BulkRecord struct {
	ID              string          `json:"id" bson:"_id"`
	Type            string          `json:"type" bson:"type"`
	Quantity        int             `json:"quantity" bson:"quantity"`
	AssignedTo      string          `json:"assigned_to,omitempty" bson:"assigned_to"`
	ArmoryStatus    ArmoryStatus    `json:"armory_status" bson:"armory_status"`
	DepositLocation DepositLocation `json:"deposit_location,omitempty" bson:"deposit_location"`
	Division        string          `json:"division,omitempty" bson:"division"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
}

// SameState reports whether two records could be merged without changing
// what either of them describes.
func (b BulkRecord) SameState(o BulkRecord) bool {
	return b.Type == o.Type &&
		b.AssignedTo == o.AssignedTo &&
		b.ArmoryStatus == o.ArmoryStatus &&
		b.DepositLocation == o.DepositLocation &&
		b.Division == o.Division
}

// BulkFilter selects bulk records by field equality.
type BulkFilter struct {
	Type         string
	AssignedTo   string
	Unassigned   bool
	ArmoryStatus ArmoryStatus
	Division     string
}

// BulkPatch is a partial update of a bulk record.
type BulkPatch struct {
	Quantity        *int
	AssignedTo      *string
	ArmoryStatus    *ArmoryStatus
	DepositLocation *DepositLocation
}

// Apply merges the patch into rec and returns the result.
func (p BulkPatch) Apply(rec BulkRecord) BulkRecord {
	if p.Quantity != nil {
		rec.Quantity = *p.Quantity
	}
	if p.AssignedTo != nil {
		rec.AssignedTo = *p.AssignedTo
	}
	if p.ArmoryStatus != nil {
		rec.ArmoryStatus = *p.ArmoryStatus
	}
	if p.DepositLocation != nil {
		rec.DepositLocation = *p.DepositLocation
	}
	return rec
}
