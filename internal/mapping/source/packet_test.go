package source

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping"
)

func samplePacketFrame() *mapping.PointcloudFrame {
	return &mapping.PointcloudFrame{
		Timestamp: time.Unix(1700000000, 123456789),
		FrameID:   "os1_lidar",
		Points: []mapping.Point{
			{Position: r3.Vec{X: 1.5, Y: -2.25, Z: 0.125}, Color: mapping.Color{R: 200, G: 10, B: 30}},
			{Position: r3.Vec{X: 0, Y: 0, Z: 4.5}},
		},
	}
}

func TestPacketRoundTrip(t *testing.T) {
	want := samplePacketFrame()
	data, err := MarshalPacket(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// Coordinates travel as float32; the sample values are exact in both
	// widths so the comparison can stay strict on positions.
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestPacketEmptyFrame(t *testing.T) {
	data, err := MarshalPacket(&mapping.PointcloudFrame{Timestamp: time.Unix(5, 0), FrameID: "f"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Points) != 0 {
		t.Errorf("expected empty frame, got %d points", len(got.Points))
	}
}

func TestParsePacketRejectsMalformed(t *testing.T) {
	good, err := MarshalPacket(samplePacketFrame())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cases := map[string][]byte{
		"empty":         nil,
		"short header":  good[:6],
		"bad magic":     append([]byte{0, 0, 0, 0}, good[4:]...),
		"truncated":     good[:len(good)-5],
		"trailing junk": append(append([]byte{}, good...), 1, 2, 3),
	}
	for name, data := range cases {
		if _, err := ParsePacket(data); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestMarshalPacketLimits(t *testing.T) {
	f := samplePacketFrame()
	f.Points = make([]mapping.Point, MaxPointsPerPacket+1)
	if _, err := MarshalPacket(f); err == nil {
		t.Error("oversized frame should be rejected")
	}
}
