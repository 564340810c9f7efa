// Package audit records custody events and forwards them to notification
// channels. Delivery is best effort: a failure here never undoes a custody
// change.
package audit

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Action names the custody operation an event describes.
type Action string

// Actions.
const (
	ActionDeposit     Action = "deposit"
	ActionRelease     Action = "release"
	ActionReassign    Action = "reassign"
	ActionFullRelease Action = "full_release"
)

// EventItem is the resulting state of one item or bulk fragment.
type EventItem struct {
	Ref             string `cbor:"ref" json:"ref"`
	Type            string `cbor:"type" json:"type"`
	Quantity        int    `cbor:"quantity,omitempty" json:"quantity,omitempty"`
	AssignedTo      string `cbor:"assigned_to,omitempty" json:"assigned_to,omitempty"`
	ArmoryStatus    string `cbor:"armory_status" json:"armory_status"`
	DepositLocation string `cbor:"deposit_location,omitempty" json:"deposit_location,omitempty"`
}

// Event describes one custody batch.
type Event struct {
	ID              string      `cbor:"id" json:"id"`
	Action          Action      `cbor:"action" json:"action"`
	SubjectID       string      `cbor:"subject_id,omitempty" json:"subject_id,omitempty"`
	SubjectName     string      `cbor:"subject_name,omitempty" json:"subject_name,omitempty"`
	Actor           string      `cbor:"actor" json:"actor"`
	Items           []EventItem `cbor:"items" json:"items"`
	Signature       []byte      `cbor:"signature,omitempty" json:"-"`
	SignatureDigest string      `cbor:"signature_digest,omitempty" json:"signature_digest,omitempty"`
	OccurredAt      time.Time   `cbor:"occurred_at" json:"occurred_at"`
}

// signatureKey separates signature digests from any other BLAKE3 use.
var signatureKey = [32]byte{
	'a', 'r', 'm', 'o', 'r', 'y', '.', 'a', 'u', 'd', 'i', 't', '.',
	's', 'i', 'g', 'n', 'a', 't', 'u', 'r', 'e',
}

// SignatureDigest returns the keyed BLAKE3 digest of a signature image in
// hex, or "" for no signature.
func SignatureDigest(sig []byte) string {
	if len(sig) == 0 {
		return ""
	}
	h, err := blake3.NewKeyed(signatureKey[:])
	if err != nil {
		panic("audit: invalid signature key: " + err.Error())
	}
	h.Write(sig)
	return hex.EncodeToString(h.Sum(nil))
}

// Render regenerates the human-readable record of an event.
func Render(e Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Custody record %s\n", e.ID)
	fmt.Fprintf(&b, "Action:  %s\n", strings.ReplaceAll(string(e.Action), "_", " "))
	if e.SubjectID != "" {
		name := e.SubjectName
		if name == "" {
			name = e.SubjectID
		}
		fmt.Fprintf(&b, "Soldier: %s\n", name)
	}
	fmt.Fprintf(&b, "By:      %s\n", e.Actor)
	fmt.Fprintf(&b, "At:      %s\n", e.OccurredAt.UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "Items (%d):\n", len(e.Items))
	for _, it := range e.Items {
		line := "  " + it.Ref
		if it.Type != "" {
			line += " [" + it.Type + "]"
		}
		if it.Quantity > 0 {
			line += fmt.Sprintf(" x%d", it.Quantity)
		}
		holder := it.AssignedTo
		if holder == "" {
			holder = "unassigned"
		}
		line += " -> " + holder + ", " + it.ArmoryStatus
		if it.DepositLocation != "" {
			line += " at " + it.DepositLocation
		}
		b.WriteString(line + "\n")
	}

	if e.SignatureDigest != "" {
		fmt.Fprintf(&b, "Signed:  blake3:%s\n", e.SignatureDigest)
	} else {
		b.WriteString("Signed:  no\n")
	}
	return b.String()
}
