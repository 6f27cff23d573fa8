package submap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// LayerConfig describes the voxel grid geometry of a submap layer.
type LayerConfig struct {
	// VoxelSize is the edge length of one voxel in metres.
	VoxelSize float64
	// VoxelsPerSide is the number of voxels along each block edge.
	VoxelsPerSide int
	// TruncationDistance bounds stored signed distances.
	TruncationDistance float64
	// MaxWeight caps per-voxel integration weight.
	MaxWeight float64
}

// DefaultLayerConfig returns the standard grid geometry: 20cm voxels in
// 16^3 blocks with a two-voxel truncation band.
func DefaultLayerConfig() LayerConfig {
	return LayerConfig{
		VoxelSize:          0.20,
		VoxelsPerSide:      16,
		TruncationDistance: 0.40,
		MaxWeight:          1e4,
	}
}

func (c LayerConfig) withDefaults() LayerConfig {
	d := DefaultLayerConfig()
	if c.VoxelSize <= 0 {
		c.VoxelSize = d.VoxelSize
	}
	if c.VoxelsPerSide <= 0 {
		c.VoxelsPerSide = d.VoxelsPerSide
	}
	if c.TruncationDistance <= 0 {
		c.TruncationDistance = 2 * c.VoxelSize
	}
	if c.MaxWeight <= 0 {
		c.MaxWeight = d.MaxWeight
	}
	return c
}

// BlockIndex addresses a block in the layer's sparse grid.
type BlockIndex struct {
	X, Y, Z int32
}

// Block holds the voxel data for one block: truncated signed distances and
// integration weights, linearised in x-major order.
type Block struct {
	Distances []float32
	Weights   []float32
}

// Layer is a sparse block-hashed voxel grid. It is the volumetric payload of
// a submap, expressed in the submap's base frame.
type Layer struct {
	cfg    LayerConfig
	blocks map[BlockIndex]*Block
}

// NewLayer creates an empty layer with the given geometry.
func NewLayer(cfg LayerConfig) *Layer {
	return &Layer{
		cfg:    cfg.withDefaults(),
		blocks: make(map[BlockIndex]*Block),
	}
}

// Config returns the layer geometry.
func (l *Layer) Config() LayerConfig { return l.cfg }

// BlockCount returns the number of allocated blocks.
func (l *Layer) BlockCount() int { return len(l.blocks) }

// blockEdge is the block edge length in metres.
func (l *Layer) blockEdge() float64 {
	return l.cfg.VoxelSize * float64(l.cfg.VoxelsPerSide)
}

// locate maps a point in the layer frame to its block index and the linear
// voxel index inside that block.
func (l *Layer) locate(p r3.Vec) (BlockIndex, int) {
	edge := l.blockEdge()
	bi := BlockIndex{
		X: int32(math.Floor(p.X / edge)),
		Y: int32(math.Floor(p.Y / edge)),
		Z: int32(math.Floor(p.Z / edge)),
	}
	n := l.cfg.VoxelsPerSide
	vx := int(math.Floor((p.X - float64(bi.X)*edge) / l.cfg.VoxelSize))
	vy := int(math.Floor((p.Y - float64(bi.Y)*edge) / l.cfg.VoxelSize))
	vz := int(math.Floor((p.Z - float64(bi.Z)*edge) / l.cfg.VoxelSize))
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= n {
			return n - 1
		}
		return v
	}
	return bi, (clamp(vz)*n+clamp(vy))*n + clamp(vx)
}

// blockOrAllocate returns the block at bi, allocating it if needed.
func (l *Layer) blockOrAllocate(bi BlockIndex) *Block {
	b, ok := l.blocks[bi]
	if !ok {
		n := l.cfg.VoxelsPerSide
		size := n * n * n
		b = &Block{
			Distances: make([]float32, size),
			Weights:   make([]float32, size),
		}
		l.blocks[bi] = b
	}
	return b
}

// UpdateVoxel fuses an observation at point p (layer frame) with the given
// signed distance and weight, using a weighted running average. Distances are
// clamped to the truncation band and weights to MaxWeight.
func (l *Layer) UpdateVoxel(p r3.Vec, distance, weight float64) {
	if weight <= 0 {
		return
	}
	trunc := l.cfg.TruncationDistance
	if distance > trunc {
		distance = trunc
	} else if distance < -trunc {
		distance = -trunc
	}

	bi, vi := l.locate(p)
	b := l.blockOrAllocate(bi)

	w := float64(b.Weights[vi])
	newWeight := w + weight
	b.Distances[vi] = float32((float64(b.Distances[vi])*w + distance*weight) / newWeight)
	if newWeight > l.cfg.MaxWeight {
		newWeight = l.cfg.MaxWeight
	}
	b.Weights[vi] = float32(newWeight)
}

// voxelCenter returns the centre of the voxel at linear index vi in block bi.
func (l *Layer) voxelCenter(bi BlockIndex, vi int) r3.Vec {
	n := l.cfg.VoxelsPerSide
	vx := vi % n
	vy := (vi / n) % n
	vz := vi / (n * n)
	edge := l.blockEdge()
	return r3.Vec{
		X: float64(bi.X)*edge + (float64(vx)+0.5)*l.cfg.VoxelSize,
		Y: float64(bi.Y)*edge + (float64(vy)+0.5)*l.cfg.VoxelSize,
		Z: float64(bi.Z)*edge + (float64(vz)+0.5)*l.cfg.VoxelSize,
	}
}

// SurfacePoints returns the centres of observed voxels lying within half a
// voxel of the zero crossing. This is the coarse surface used for mesh export
// and status reporting.
func (l *Layer) SurfacePoints() []r3.Vec {
	var pts []r3.Vec
	half := float32(l.cfg.VoxelSize / 2)
	for bi, b := range l.blocks {
		for vi := range b.Weights {
			if b.Weights[vi] <= 0 {
				continue
			}
			d := b.Distances[vi]
			if d < 0 {
				d = -d
			}
			if d <= half {
				pts = append(pts, l.voxelCenter(bi, vi))
			}
		}
	}
	return pts
}

// Absorb fuses every observed voxel of other into l. other's voxel centres
// are first mapped through transform (other frame → l frame) via fn; pass nil
// to fuse in-place grids sharing a frame.
func (l *Layer) Absorb(other *Layer, fn func(r3.Vec) r3.Vec) {
	if other == nil {
		return
	}
	for bi, b := range other.blocks {
		for vi := range b.Weights {
			w := float64(b.Weights[vi])
			if w <= 0 {
				continue
			}
			p := other.voxelCenter(bi, vi)
			if fn != nil {
				p = fn(p)
			}
			l.UpdateVoxel(p, float64(b.Distances[vi]), w)
		}
	}
}

// Binary serialisation. Little-endian, versioned from day one so the wire
// format can grow without breaking old archives.
const (
	layerMagic   = 0x534d4c59 // "SMLY"
	layerVersion = 1
)

// MarshalBinary encodes the layer.
func (l *Layer) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	hdr := []interface{}{
		uint32(layerMagic),
		uint16(layerVersion),
		l.cfg.VoxelSize,
		uint32(l.cfg.VoxelsPerSide),
		l.cfg.TruncationDistance,
		l.cfg.MaxWeight,
		uint32(len(l.blocks)),
	}
	for _, v := range hdr {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	for bi, b := range l.blocks {
		if err := binary.Write(&buf, binary.LittleEndian, bi); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, b.Distances); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, b.Weights); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalLayer decodes a layer from data.
func UnmarshalLayer(data []byte) (*Layer, error) {
	r := bytes.NewReader(data)
	var (
		magic      uint32
		version    uint16
		voxelSize  float64
		perSide    uint32
		trunc      float64
		maxWeight  float64
		blockCount uint32
	)
	for _, v := range []interface{}{&magic, &version, &voxelSize, &perSide, &trunc, &maxWeight, &blockCount} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("layer header: %w", err)
		}
	}
	if magic != layerMagic {
		return nil, fmt.Errorf("bad layer magic 0x%08x", magic)
	}
	if version != layerVersion {
		return nil, fmt.Errorf("unsupported layer version %d", version)
	}
	if perSide == 0 || perSide > 256 {
		return nil, fmt.Errorf("implausible voxels per side %d", perSide)
	}
	voxels := int(perSide) * int(perSide) * int(perSide)
	// Reject block counts that cannot fit in the remaining payload.
	per := int64(12 + 8*voxels)
	if int64(blockCount)*per > int64(r.Len()) {
		return nil, fmt.Errorf("truncated layer payload: %d blocks declared, %d bytes left", blockCount, r.Len())
	}

	l := NewLayer(LayerConfig{
		VoxelSize:          voxelSize,
		VoxelsPerSide:      int(perSide),
		TruncationDistance: trunc,
		MaxWeight:          maxWeight,
	})
	for i := uint32(0); i < blockCount; i++ {
		var bi BlockIndex
		if err := binary.Read(r, binary.LittleEndian, &bi); err != nil {
			return nil, fmt.Errorf("block %d index: %w", i, err)
		}
		b := &Block{
			Distances: make([]float32, voxels),
			Weights:   make([]float32, voxels),
		}
		if err := binary.Read(r, binary.LittleEndian, b.Distances); err != nil {
			return nil, fmt.Errorf("block %d distances: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, b.Weights); err != nil {
			return nil, fmt.Errorf("block %d weights: %w", i, err)
		}
		l.blocks[bi] = b
	}
	return l, nil
}
