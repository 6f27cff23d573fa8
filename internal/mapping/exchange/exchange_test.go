package exchange

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/mapping/submap"
	"github.com/banshee-data/submap.report/internal/mapping/timing"
)

// memWire collects sent messages; subscriber count is adjustable.
type memWire struct {
	subscribers int
	sent        [][]byte
}

func (w *memWire) SubscriberCount() int { return w.subscribers }
func (w *memWire) Send(data []byte)     { w.sent = append(w.sent, data) }

func seededStore(t *testing.T) *submap.Store {
	t.Helper()
	st := submap.NewStore(submap.LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8})
	s := st.Create(mapping.RotationAboutZ(0.3, r3.Vec{X: 1}))
	s.Layer().UpdateVoxel(r3.Vec{X: 0.05}, 0, 1)
	return st
}

func TestPublishSkippedWithoutSubscribers(t *testing.T) {
	st := seededStore(t)
	wire := &memWire{subscribers: 0}
	sink := &timing.MemorySink{}
	x := New(st, wire, timing.NewRecorder(sink, nil))

	id, _ := st.ActiveID()
	x.Publish(id, false)

	if len(wire.sent) != 0 {
		t.Error("publish with zero subscribers must not serialize or send")
	}
	if len(sink.Entries) != 0 {
		t.Error("skipped publish must not record a timing entry")
	}
}

func TestPublishMissingSubmapIsNoop(t *testing.T) {
	st := seededStore(t)
	wire := &memWire{subscribers: 1}
	x := New(st, wire, nil)

	x.Publish(99, false)
	if len(wire.sent) != 0 {
		t.Error("publishing a missing submap should be a no-op")
	}
}

func TestPublishSubmapRecordsTiming(t *testing.T) {
	st := seededStore(t)
	wire := &memWire{subscribers: 1}
	sink := &timing.MemorySink{}
	reg := timing.NewRegistry()
	x := New(st, wire, timing.NewRecorder(sink, reg))

	id, _ := st.ActiveID()
	x.Publish(id, false)

	if len(wire.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(wire.sent))
	}
	msg, err := Unmarshal(wire.sent[0])
	if err != nil {
		t.Fatalf("sent message does not decode: %v", err)
	}
	if msg.ID != int64(id) || msg.Global {
		t.Errorf("expected non-global message for submap %d, got %+v", id, msg)
	}
	if got := sink.Labels(); len(got) != 1 || got[0] != "sent" {
		t.Errorf("expected one 'sent' timing entry, got %v", got)
	}
	if sink.Entries[0].SubmapCount != st.Size() {
		t.Errorf("timing entry should carry submap count %d, got %d", st.Size(), sink.Entries[0].SubmapCount)
	}
	if sink.Dumps[0] == "" {
		t.Error("timing entry should carry the process timer dump")
	}
}

func TestGlobalPublishSynthesisesIdentitySnapshot(t *testing.T) {
	st := seededStore(t)
	// A second submap, offset from the first.
	s2 := st.Create(mapping.RotationAboutZ(0, r3.Vec{X: 3}))
	s2.Layer().UpdateVoxel(r3.Vec{X: 0.05}, 0, 1)

	wire := &memWire{subscribers: 2}
	x := New(st, wire, nil)

	x.Publish(0, true)
	if len(wire.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(wire.sent))
	}
	msg, err := Unmarshal(wire.sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID != 0 {
		t.Errorf("global snapshot must carry id 0, got %d", msg.ID)
	}
	if !msg.Pose.IsIdentity(1e-12) {
		t.Errorf("global snapshot must carry the identity pose, got %+v", msg.Pose)
	}
	if !msg.Global {
		t.Error("global snapshot must set the global flag")
	}

	merged, err := submap.UnmarshalLayer(msg.Payload)
	if err != nil {
		t.Fatalf("global payload does not decode: %v", err)
	}
	if got := len(merged.SurfacePoints()); got != 2 {
		t.Errorf("global payload should span both submaps, got %d surface points", got)
	}
}

func TestGlobalPublishIgnoresRequestedID(t *testing.T) {
	st := seededStore(t)
	wire := &memWire{subscribers: 1}
	x := New(st, wire, nil)

	// The requested ID is irrelevant for global snapshots, even if bogus.
	x.Publish(1234, true)
	if len(wire.sent) != 1 {
		t.Fatalf("expected global publish despite unknown id, got %d messages", len(wire.sent))
	}
	msg, _ := Unmarshal(wire.sent[0])
	if msg.ID != 0 {
		t.Errorf("expected id 0, got %d", msg.ID)
	}
}

func TestReceiveMergesIntoStore(t *testing.T) {
	src := seededStore(t)
	id, _ := src.ActiveID()
	wire := &memWire{subscribers: 1}
	New(src, wire, nil).Publish(id, false)

	dst := submap.NewStore(src.LayerConfig())
	sink := &timing.MemorySink{}
	x := New(dst, nil, timing.NewRecorder(sink, nil))
	if err := x.Receive(wire.sent[0]); err != nil {
		t.Fatalf("receive: %v", err)
	}

	got := dst.ByID(id)
	if got == nil {
		t.Fatal("received submap not in store")
	}
	want := src.ByID(id)
	if d := got.Pose().Translation.X - want.Pose().Translation.X; d > 1e-12 || d < -1e-12 {
		t.Errorf("pose not preserved: %+v vs %+v", got.Pose(), want.Pose())
	}
	if got.Layer().BlockCount() != want.Layer().BlockCount() {
		t.Errorf("payload not preserved: %d vs %d blocks", got.Layer().BlockCount(), want.Layer().BlockCount())
	}
	if labels := sink.Labels(); len(labels) != 1 || labels[0] != "received" {
		t.Errorf("expected one 'received' timing entry, got %v", labels)
	}
}

func TestReceiveRejectsMalformed(t *testing.T) {
	st := submap.NewStore(submap.LayerConfig{})
	x := New(st, nil, nil)

	if err := x.Receive([]byte{0x82}); err == nil {
		t.Error("malformed envelope should be rejected")
	}
	// Valid envelope, garbage payload.
	bad := Marshal(Message{ID: 5, Pose: mapping.Identity(), Payload: []byte{1, 2, 3}})
	if err := x.Receive(bad); err == nil {
		t.Error("garbage layer payload should be rejected")
	}
	if st.Size() != 0 {
		t.Error("rejected messages must not mutate the store")
	}
}

func TestReceiveRejectsGlobalSnapshot(t *testing.T) {
	st := seededStore(t)
	wire := &memWire{subscribers: 1}
	x := New(st, wire, nil)
	x.Publish(0, true)

	dst := submap.NewStore(st.LayerConfig())
	if err := New(dst, nil, nil).Receive(wire.sent[0]); err == nil {
		t.Error("global snapshots must not merge into the store")
	}
}
