package model

import "time"

// DateLayout is the calendar-day format used for verification dates.
const DateLayout = "2006-01-02"

// Day returns the calendar day of t in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// SubjectKind says what a verification attests to.
type SubjectKind string

// Subject kinds.
const (
	SubjectSoldier SubjectKind = "soldier"
	SubjectItem    SubjectKind = "item"
)

// Subject is the key a verification record is filed under: a soldier, or an
// unassigned item.
type Subject struct {
	Kind         SubjectKind `json:"kind" bson:"kind"`
	SoldierID    string      `json:"soldier_id,omitempty" bson:"soldier_id,omitempty"`
	ItemCategory Category    `json:"item_category,omitempty" bson:"item_category,omitempty"`
	ItemID       string      `json:"item_id,omitempty" bson:"item_id,omitempty"`
}

// SoldierSubject returns the subject key for a soldier.
func SoldierSubject(soldierID string) Subject {
	return Subject{Kind: SubjectSoldier, SoldierID: soldierID}
}

// ItemSubject returns the subject key for an unassigned item.
func ItemSubject(ref ItemRef) Subject {
	return Subject{Kind: SubjectItem, ItemCategory: ref.Category, ItemID: ref.ID}
}

// Verification is a dated attestation that equipment was physically present.
// CheckedIDs is a snapshot taken when the record was created.
type Verification struct {
	ID         string    `json:"id" bson:"_id"`
	Date       string    `json:"date" bson:"date"`
	Subject    Subject   `json:"subject" bson:"subject"`
	CheckedIDs []string  `json:"checked_ids" bson:"checked_ids"`
	VerifiedBy string    `json:"verified_by" bson:"verified_by"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// Checked reports whether id is among the record's checked items.
func (v Verification) Checked(id string) bool {
	for _, c := range v.CheckedIDs {
		if c == id {
			return true
		}
	}
	return false
}

// VerificationFilter selects verification records. Zero fields are ignored.
type VerificationFilter struct {
	Date      string
	Subject   *Subject
	CheckedID string
}
