package model

import (
	"testing"
	"time"
)

func TestCheckArmoryState(t *testing.T) {
	tests := []struct {
		status   ArmoryStatus
		location DepositLocation
		wantErr  bool
	}{
		{StatusWithSoldier, "", false},
		{StatusWithSoldier, LocationMainArmory, true},
		{StatusInDeposit, LocationFieldSafe, false},
		{StatusInDeposit, "", true},
		{StatusInDeposit, "garage", true},
		{"borrowed", "", true},
	}

	for _, tt := range tests {
		err := CheckArmoryState(tt.status, tt.location)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckArmoryState(%q, %q) error = %v, wantErr %v", tt.status, tt.location, err, tt.wantErr)
		}
	}
}

func TestParseItemRef(t *testing.T) {
	ref, err := ParseItemRef("drone_component/DC-7")
	if err != nil {
		t.Fatalf("ParseItemRef: %v", err)
	}
	if ref.Category != CategoryDroneComponent || ref.ID != "DC-7" {
		t.Errorf("unexpected ref %+v", ref)
	}
	if ref.String() != "drone_component/DC-7" {
		t.Errorf("String() = %q", ref.String())
	}

	// Serials may contain slashes; only the first one separates.
	ref, err = ParseItemRef("gear/PVS/14")
	if err != nil || ref.ID != "PVS/14" {
		t.Errorf("ParseItemRef(gear/PVS/14) = %+v, %v", ref, err)
	}

	for _, bad := range []string{"", "weapon", "weapon/", "tank/T-72"} {
		if _, err := ParseItemRef(bad); err == nil {
			t.Errorf("ParseItemRef(%q) expected error", bad)
		}
	}
}

func TestTransitionPatches(t *testing.T) {
	item := SerializedItem{AssignedTo: "S1", ArmoryStatus: StatusInDeposit, DepositLocation: LocationMainArmory}

	got := ReleaseTransition().ItemPatch().Apply(item)
	if got.AssignedTo != "S1" || got.ArmoryStatus != StatusWithSoldier || got.DepositLocation != "" {
		t.Errorf("release: got %+v", got)
	}

	got = ReassignTransition("S2").ItemPatch().Apply(item)
	if got.AssignedTo != "S2" || got.ArmoryStatus != StatusInDeposit || got.DepositLocation != LocationMainArmory {
		t.Errorf("reassign: got %+v", got)
	}

	got = DepositTransition(LocationFieldSafe, true).ItemPatch().Apply(SerializedItem{AssignedTo: "S1", ArmoryStatus: StatusWithSoldier})
	if got.AssignedTo != "" || got.DepositLocation != LocationFieldSafe {
		t.Errorf("deposit to pool: got %+v", got)
	}

	got = FullReleaseTransition(false, LocationMainArmory).ItemPatch().Apply(item)
	if got.AssignedTo != "" || got.ArmoryStatus != StatusWithSoldier || got.DepositLocation != "" {
		t.Errorf("full release: got %+v", got)
	}

	rec := FullReleaseTransition(true, LocationCompanyArmory).BulkPatch().Apply(BulkRecord{Quantity: 4, AssignedTo: "S1", ArmoryStatus: StatusWithSoldier})
	if rec.Quantity != 4 || rec.AssignedTo != "" || rec.DepositLocation != LocationCompanyArmory {
		t.Errorf("bulk full release: got %+v", rec)
	}

	if !(Transition{}).Empty() || ReleaseTransition().Empty() {
		t.Error("Empty() mismatch")
	}
}

func TestBulkSameState(t *testing.T) {
	a := BulkRecord{ID: "a", Type: "vest", Quantity: 2, AssignedTo: "S1", ArmoryStatus: StatusWithSoldier}
	b := a
	b.ID, b.Quantity = "b", 5
	if !a.SameState(b) {
		t.Error("records differing only in id and quantity should share state")
	}
	b.ArmoryStatus, b.DepositLocation = StatusInDeposit, LocationMainArmory
	if a.SameState(b) {
		t.Error("records in different armory states should not share state")
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	if got := Day(ts, loc); got != "2024-03-02" {
		t.Errorf("Day = %q, want 2024-03-02", got)
	}
	if got := Day(ts, time.UTC); got != "2024-03-01" {
		t.Errorf("Day = %q, want 2024-03-01", got)
	}
}
