package audit

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same event always encodes
// to the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("audit: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("audit: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes an event for storage.
func Encode(e Event) ([]byte, error) {
	return encMode.Marshal(e)
}

// Decode parses a stored event.
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
