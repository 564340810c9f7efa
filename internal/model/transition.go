package model

// Transition is the target custody state of a mutation. Nil fields are left
// untouched, so a reassignment leaves the armory state alone and a deposit
// can leave the assignment alone.
type Transition struct {
	AssignedTo   *string         `json:"assigned_to,omitempty"`
	ArmoryStatus *ArmoryStatus   `json:"armory_status,omitempty"`
	Location     DepositLocation `json:"deposit_location,omitempty"`
}

// DepositTransition moves an item into location. With clearAssignment the
// item also returns to the general pool.
func DepositTransition(location DepositLocation, clearAssignment bool) Transition {
	status := StatusInDeposit
	t := Transition{ArmoryStatus: &status, Location: location}
	if clearAssignment {
		none := ""
		t.AssignedTo = &none
	}
	return t
}

// ReleaseTransition takes an item out of its deposit. The assignment is kept.
func ReleaseTransition() Transition {
	status := StatusWithSoldier
	return Transition{ArmoryStatus: &status}
}

// ReassignTransition changes the holder only. An empty holder clears the
// assignment.
func ReassignTransition(holder string) Transition {
	return Transition{AssignedTo: &holder}
}

// FullReleaseTransition clears the assignment and sets the armory state
// according to toDeposit.
func FullReleaseTransition(toDeposit bool, location DepositLocation) Transition {
	none := ""
	status := StatusWithSoldier
	if toDeposit {
		status = StatusInDeposit
	} else {
		location = ""
	}
	return Transition{AssignedTo: &none, ArmoryStatus: &status, Location: location}
}

// ItemPatch converts the transition into a patch. The deposit location
// follows the armory status: it is set when entering a deposit and cleared
// when leaving one.
func (t Transition) ItemPatch() ItemPatch {
	p := ItemPatch{AssignedTo: t.AssignedTo, ArmoryStatus: t.ArmoryStatus}
	if t.ArmoryStatus != nil {
		loc := t.Location
		if *t.ArmoryStatus == StatusWithSoldier {
			loc = ""
		}
		p.DepositLocation = &loc
	}
	return p
}

// BulkPatch converts the transition into a bulk patch.
func (t Transition) BulkPatch() BulkPatch {
	ip := t.ItemPatch()
	return BulkPatch{AssignedTo: ip.AssignedTo, ArmoryStatus: ip.ArmoryStatus, DepositLocation: ip.DepositLocation}
}

// Empty reports whether the transition changes nothing.
func (t Transition) Empty() bool {
	return t.AssignedTo == nil && t.ArmoryStatus == nil
}
