package submap

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestUpdateVoxelWeightedAverage(t *testing.T) {
	l := NewLayer(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8})
	p := r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}

	l.UpdateVoxel(p, 0.2, 1)
	l.UpdateVoxel(p, 0.0, 1)

	bi, vi := l.locate(p)
	b := l.blocks[bi]
	if b == nil {
		t.Fatal("block not allocated")
	}
	if got := b.Distances[vi]; got < 0.099 || got > 0.101 {
		t.Errorf("expected averaged distance ~0.1, got %v", got)
	}
	if got := b.Weights[vi]; got != 2 {
		t.Errorf("expected accumulated weight 2, got %v", got)
	}
}

func TestUpdateVoxelTruncationAndWeightCap(t *testing.T) {
	l := NewLayer(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8, TruncationDistance: 0.2, MaxWeight: 5})
	p := r3.Vec{X: -0.05, Y: 0.35, Z: 1.0}

	l.UpdateVoxel(p, 10.0, 100)
	bi, vi := l.locate(p)
	b := l.blocks[bi]
	if got := b.Distances[vi]; got != 0.2 {
		t.Errorf("distance should clamp to truncation 0.2, got %v", got)
	}
	if got := b.Weights[vi]; got != 5 {
		t.Errorf("weight should cap at 5, got %v", got)
	}
}

func TestNegativeCoordinatesLocateConsistently(t *testing.T) {
	l := NewLayer(LayerConfig{VoxelSize: 0.25, VoxelsPerSide: 4})
	p := r3.Vec{X: -0.1, Y: -1.3, Z: -0.9}

	l.UpdateVoxel(p, 0, 1)
	if l.BlockCount() != 1 {
		t.Fatalf("expected one block, got %d", l.BlockCount())
	}

	// The surface voxel centre must land in the same voxel as the update.
	pts := l.SurfacePoints()
	if len(pts) != 1 {
		t.Fatalf("expected one surface point, got %d", len(pts))
	}
	bi1, vi1 := l.locate(p)
	bi2, vi2 := l.locate(pts[0])
	if bi1 != bi2 || vi1 != vi2 {
		t.Errorf("surface point %v maps to (%v,%d), update mapped to (%v,%d)", pts[0], bi2, vi2, bi1, vi1)
	}
}

func TestSurfacePointsOnlyNearZeroCrossing(t *testing.T) {
	l := NewLayer(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8, TruncationDistance: 0.4})

	l.UpdateVoxel(r3.Vec{X: 0.05}, 0.0, 1)  // on the surface
	l.UpdateVoxel(r3.Vec{X: 0.55}, 0.35, 1) // well in front of it

	if got := len(l.SurfacePoints()); got != 1 {
		t.Errorf("expected 1 surface point, got %d", got)
	}
}

func TestLayerMarshalRoundTrip(t *testing.T) {
	l := NewLayer(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8})
	for _, p := range []r3.Vec{
		{X: 0.05, Y: 0.05, Z: 0.05},
		{X: 1.9, Y: -0.4, Z: 0.3},
		{X: -2.2, Y: 0.8, Z: -1.1},
	} {
		l.UpdateVoxel(p, 0.02, 3)
	}

	data, err := l.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalLayer(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Config() != l.Config() {
		t.Errorf("config mismatch: %+v vs %+v", got.Config(), l.Config())
	}
	if got.BlockCount() != l.BlockCount() {
		t.Fatalf("block count mismatch: %d vs %d", got.BlockCount(), l.BlockCount())
	}
	for bi, b := range l.blocks {
		gb, ok := got.blocks[bi]
		if !ok {
			t.Fatalf("missing block %+v after round trip", bi)
		}
		for i := range b.Distances {
			if b.Distances[i] != gb.Distances[i] || b.Weights[i] != gb.Weights[i] {
				t.Fatalf("block %+v voxel %d mismatch", bi, i)
			}
		}
	}
}

func TestUnmarshalLayerRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":     {},
		"bad magic": make([]byte, 64),
	}
	for name, data := range cases {
		if _, err := UnmarshalLayer(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	// A valid header declaring more blocks than the payload holds.
	l := NewLayer(LayerConfig{})
	data, err := l.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] = 200 // block count lives at the end of the header
	if _, err := UnmarshalLayer(data); err == nil {
		t.Error("truncated payload: expected error")
	}
}

func TestAbsorbWithTransform(t *testing.T) {
	src := NewLayer(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8})
	src.UpdateVoxel(r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}, 0, 2)

	dst := NewLayer(LayerConfig{VoxelSize: 0.1, VoxelsPerSide: 8})
	shift := func(p r3.Vec) r3.Vec { return r3.Vec{X: p.X + 1, Y: p.Y, Z: p.Z} }
	dst.Absorb(src, shift)

	pts := dst.SurfacePoints()
	if len(pts) != 1 {
		t.Fatalf("expected 1 surface point after absorb, got %d", len(pts))
	}
	if pts[0].X < 1.0 || pts[0].X > 1.1 {
		t.Errorf("absorbed voxel should land near x=1.05, got %+v", pts[0])
	}
}
