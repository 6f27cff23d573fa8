package submap

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping"
)

func TestStoreCreateAssignsMonotonicIDs(t *testing.T) {
	st := NewStore(LayerConfig{})

	if _, ok := st.ActiveID(); ok {
		t.Fatal("empty store should have no active submap")
	}

	a := st.Create(mapping.Identity())
	b := st.Create(mapping.RotationAboutZ(0.5, r3.Vec{X: 1}))

	if a.ID() != 1 || b.ID() != 2 {
		t.Errorf("expected ids 1,2 got %d,%d", a.ID(), b.ID())
	}
	if id, ok := st.ActiveID(); !ok || id != b.ID() {
		t.Errorf("newest submap should be active, got %d ok=%v", id, ok)
	}
	if st.Size() != 2 {
		t.Errorf("expected 2 submaps, got %d", st.Size())
	}
}

func TestStoreActivate(t *testing.T) {
	st := NewStore(LayerConfig{})
	a := st.Create(mapping.Identity())
	st.Create(mapping.Identity())

	if err := st.Activate(a.ID()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if st.Active() != a {
		t.Error("activate did not switch the active submap")
	}
	if err := st.Activate(99); err == nil {
		t.Error("activating a missing submap should fail")
	}
}

func TestStoreMergeLastWriterWins(t *testing.T) {
	st := NewStore(LayerConfig{})
	finished := st.Create(mapping.Identity())
	active := st.Create(mapping.Identity())

	// Inbound record with a finished submap's ID replaces pose and layer.
	inboundLayer := NewLayer(st.LayerConfig())
	inboundLayer.UpdateVoxel(r3.Vec{X: 0.1}, 0, 1)
	inbound := NewSubmap(finished.ID(), mapping.RotationAboutZ(0, r3.Vec{X: 5}), inboundLayer)
	if err := st.Merge(inbound); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := st.ByID(finished.ID()); got.Pose().Translation.X != 5 {
		t.Errorf("merge should overwrite by id, pose=%+v", got.Pose().Translation)
	}

	// Merged submaps never steal the active slot.
	far := NewSubmap(40, mapping.Identity(), NewLayer(st.LayerConfig()))
	if err := st.Merge(far); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if id, _ := st.ActiveID(); id != active.ID() {
		t.Errorf("active changed on merge: %d", id)
	}

	// Local creation continues past merged peer IDs.
	next := st.Create(mapping.Identity())
	if next.ID() != 41 {
		t.Errorf("expected next local id 41, got %d", next.ID())
	}
}

func TestStoreMergeRefusesActiveSubmap(t *testing.T) {
	st := NewStore(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8})
	active := st.Create(mapping.Identity())
	active.Layer().UpdateVoxel(r3.Vec{X: 0.05}, 0, 1)

	// Overwriting the active record would detach it from the integrator
	// and discard everything integrated since; the merge must be refused.
	inbound := NewSubmap(active.ID(), mapping.RotationAboutZ(0, r3.Vec{X: 5}), NewLayer(st.LayerConfig()))
	if err := st.Merge(inbound); err == nil {
		t.Fatal("merging over the active submap should fail")
	}
	if got := st.ByID(active.ID()); got != active || got.Layer().BlockCount() != 1 {
		t.Error("refused merge must leave the active record untouched")
	}

	// The same ID becomes mergeable once another submap takes over.
	st.Create(mapping.Identity())
	if err := st.Merge(inbound); err != nil {
		t.Errorf("merge after handoff: %v", err)
	}
}

func TestStoreMergeRejectsReservedID(t *testing.T) {
	st := NewStore(LayerConfig{})
	if err := st.Merge(NewSubmap(0, mapping.Identity(), nil)); err == nil {
		t.Error("merging id 0 should fail")
	}
	if err := st.Merge(nil); err == nil {
		t.Error("merging nil should fail")
	}
}

func TestStoreProjectedMergesAllSubmaps(t *testing.T) {
	st := NewStore(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8})

	a := st.Create(mapping.Identity())
	a.Layer().UpdateVoxel(r3.Vec{X: 0.05}, 0, 1)

	// Second submap is based 2m along X; its local surface voxel must land
	// at x≈2 in the projected map.
	b := st.Create(mapping.RotationAboutZ(0, r3.Vec{X: 2}))
	b.Layer().UpdateVoxel(r3.Vec{X: 0.05}, 0, 1)

	merged := st.Projected()
	pts := merged.SurfacePoints()
	if len(pts) != 2 {
		t.Fatalf("expected 2 surface points in projection, got %d", len(pts))
	}
	var nearZero, nearTwo bool
	for _, p := range pts {
		if p.X < 0.2 {
			nearZero = true
		}
		if p.X > 1.8 {
			nearTwo = true
		}
	}
	if !nearZero || !nearTwo {
		t.Errorf("projection should contain both submaps' surfaces: %+v", pts)
	}
}

func TestStoreReplace(t *testing.T) {
	st := NewStore(LayerConfig{})
	st.Create(mapping.Identity())

	recs := []*Submap{
		NewSubmap(3, mapping.Identity(), nil),
		NewSubmap(7, mapping.Identity(), nil),
	}
	if err := st.Replace(recs, 7); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if st.Size() != 2 || !st.Exists(3) || !st.Exists(7) {
		t.Error("replace did not install the new records")
	}
	if id, _ := st.ActiveID(); id != 7 {
		t.Errorf("expected active 7, got %d", id)
	}
	if got := st.Create(mapping.Identity()).ID(); got != 8 {
		t.Errorf("expected next id 8 after replace, got %d", got)
	}

	if err := st.Replace(recs, 99); err == nil {
		t.Error("replace with missing active id should fail")
	}
	if err := st.Replace([]*Submap{NewSubmap(1, mapping.Identity(), nil), NewSubmap(1, mapping.Identity(), nil)}, 0); err == nil {
		t.Error("replace with duplicate ids should fail")
	}
}
