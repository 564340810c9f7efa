package model

import (
	"fmt"
	"strings"
	"time"
)

// Category is the kind of serialized equipment. Serials are unique within a
// category, not across categories.
type Category string

// Item categories.
const (
	CategoryWeapon         Category = "weapon"
	CategoryGear           Category = "gear"
	CategoryDroneSet       Category = "drone_set"
	CategoryDroneComponent Category = "drone_component"
)

// Categories lists every serialized category in display order.
var Categories = []Category{CategoryWeapon, CategoryGear, CategoryDroneSet, CategoryDroneComponent}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ArmoryStatus says whether an item is checked into a deposit or out with
// its holder. It is independent of assignment: an unassigned item can still
// be out in the general pool.
type ArmoryStatus string

// Armory statuses.
const (
	StatusWithSoldier ArmoryStatus = "with_soldier"
	StatusInDeposit   ArmoryStatus = "in_deposit"
)

// Valid reports whether s is a known armory status.
func (s ArmoryStatus) Valid() bool {
	return s == StatusWithSoldier || s == StatusInDeposit
}

// DepositLocation is one of the fixed storage locations.
type DepositLocation string

// Deposit locations.
const (
	LocationMainArmory    DepositLocation = "main_armory"
	LocationCompanyArmory DepositLocation = "company_armory"
	LocationFieldSafe     DepositLocation = "field_safe"
)

// DepositLocations lists the known deposit locations.
var DepositLocations = []DepositLocation{LocationMainArmory, LocationCompanyArmory, LocationFieldSafe}

// Valid reports whether l is a known deposit location.
func (l DepositLocation) Valid() bool {
	for _, known := range DepositLocations {
		if l == known {
			return true
		}
	}
	return false
}

// CheckArmoryState validates a status/location combination. A location is
// required while in deposit and forbidden while with the soldier.
func CheckArmoryState(status ArmoryStatus, location DepositLocation) error {
	switch status {
	case StatusWithSoldier:
		if location != "" {
			return fmt.Errorf("deposit location %q given while status is %s", location, status)
		}
	case StatusInDeposit:
		if location == "" {
			return fmt.Errorf("deposit location required while status is %s", status)
		}
		if !location.Valid() {
			return fmt.Errorf("unknown deposit location %q", location)
		}
	default:
		return fmt.Errorf("unknown armory status %q", status)
	}
	return nil
}

// Functional item statuses.
const (
	ItemStatusOperational = "operational"
	ItemStatusDamaged     = "damaged"
	ItemStatusLost        = "lost"
)

// ItemRef identifies a serialized item.
type ItemRef struct {
	Category Category `json:"category" bson:"category"`
	ID       string   `json:"id" bson:"id"`
}

func (r ItemRef) String() string {
	return string(r.Category) + "/" + r.ID
}

// ParseItemRef parses the "category/id" form produced by ItemRef.String.
func ParseItemRef(s string) (ItemRef, error) {
	category, id, ok := strings.Cut(s, "/")
	if !ok || id == "" || !Category(category).Valid() {
		return ItemRef{}, fmt.Errorf("invalid item reference %q", s)
	}
	return ItemRef{Category: Category(category), ID: id}, nil
}

// SerializedItem is a weapon, serialized gear, drone set or drone component.
type SerializedItem struct {
	Category        Category        `json:"category" bson:"category"`
	ID              string          `json:"id" bson:"serial"`
	Type            string          `json:"type" bson:"type"`
	AssignedTo      string          `json:"assigned_to,omitempty" bson:"assigned_to"`
	ArmoryStatus    ArmoryStatus    `json:"armory_status" bson:"armory_status"`
	DepositLocation DepositLocation `json:"deposit_location,omitempty" bson:"deposit_location"`
	Status          string          `json:"status" bson:"status"`
	ParentID        string          `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Division        string          `json:"division,omitempty" bson:"division"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
}

// Ref returns the item's identity.
func (i SerializedItem) Ref() ItemRef {
	return ItemRef{Category: i.Category, ID: i.ID}
}

// Assigned reports whether the item has a holder.
func (i SerializedItem) Assigned() bool {
	return i.AssignedTo != ""
}

// ItemFilter selects serialized items by field equality. Zero fields are
// ignored; Unassigned restricts to items with no holder.
type ItemFilter struct {
	Category     Category
	Type         string
	AssignedTo   string
	Unassigned   bool
	ArmoryStatus ArmoryStatus
	ParentID     string
	Division     string
}

// ItemPatch is a partial update. Nil fields are left untouched; a non-nil
// pointer to "" clears AssignedTo or DepositLocation.
type ItemPatch struct {
	AssignedTo      *string
	ArmoryStatus    *ArmoryStatus
	DepositLocation *DepositLocation
	Status          *string
}

// Apply merges the patch into item and returns the result.
func (p ItemPatch) Apply(item SerializedItem) SerializedItem {
	if p.AssignedTo != nil {
		item.AssignedTo = *p.AssignedTo
	}
	if p.ArmoryStatus != nil {
		item.ArmoryStatus = *p.ArmoryStatus
	}
	if p.DepositLocation != nil {
		item.DepositLocation = *p.DepositLocation
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	return item
}
