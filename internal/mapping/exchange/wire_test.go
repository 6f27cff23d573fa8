package exchange

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		ID:      7,
		Pose:    mapping.RotationAboutZ(1.1, r3.Vec{X: 4.5, Y: -2, Z: 0.25}),
		Payload: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(msg, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageRoundTripGlobal(t *testing.T) {
	msg := Message{
		ID:      0,
		Pose:    mapping.Identity(),
		Payload: []byte{1, 2, 3},
		Global:  true,
	}
	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Global {
		t.Error("global flag lost in round trip")
	}
	if got.ID != 0 || !got.Pose.IsIdentity(1e-12) {
		t.Errorf("global snapshot must keep id 0 and identity pose, got id=%d pose=%+v", got.ID, got.Pose)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	base := Marshal(Message{ID: 3})
	// Append an unknown varint field (100) that future senders might add.
	extended := append(append([]byte(nil), base...), 0xa0, 0x06, 0x2a)
	got, err := Unmarshal(extended)
	if err != nil {
		t.Fatalf("unknown field should be skipped, got error: %v", err)
	}
	if got.ID != 3 {
		t.Errorf("id lost while skipping unknown field: %d", got.ID)
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"truncated tag":   {0x82},
		"truncated bytes": {0x12, 0x20, 0x01},
	}
	for name, data := range cases {
		if _, err := Unmarshal(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
