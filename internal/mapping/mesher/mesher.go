// Package mesher turns stored submap layers into exportable surface
// geometry. The output format is ASCII PLY, one vertex per surface voxel.
package mesher

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping/submap"
	"github.com/banshee-data/submap.report/internal/monitoring"
)

// Mode selects how submaps are combined during export.
type Mode string

const (
	// ModeSeparated extracts each submap's surface independently and
	// concatenates the results in world frame.
	ModeSeparated Mode = "separated"
	// ModeCombined projects all submaps into one world-frame layer first
	// and extracts a single surface from the merged result.
	ModeCombined Mode = "combined"
)

// ParseMode validates a mode string from config or an HTTP request.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSeparated, ModeCombined:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mesh mode %q (want %q or %q)", s, ModeSeparated, ModeCombined)
}

// Mesher maintains a surface snapshot of the active submap and exports the
// whole map to PLY files.
type Mesher struct {
	store *submap.Store

	mu       sync.Mutex
	activeID submap.ID
	snapshot []r3.Vec
}

func New(store *submap.Store) *Mesher {
	return &Mesher{store: store}
}

// SwitchToActiveSubmap points the periodic refresh at the store's current
// active submap and drops the previous snapshot.
func (m *Mesher) SwitchToActiveSubmap() {
	id, ok := m.store.ActiveID()
	if !ok {
		return
	}
	m.mu.Lock()
	m.activeID = id
	m.snapshot = nil
	m.mu.Unlock()
}

// RefreshActive regenerates the cached surface snapshot of the active
// submap, in world frame.
func (m *Mesher) RefreshActive() {
	m.mu.Lock()
	id := m.activeID
	m.mu.Unlock()

	s := m.store.ByID(id)
	if s == nil {
		return
	}
	pose := s.Pose()
	points := s.Layer().SurfacePoints()
	for i, p := range points {
		points[i] = pose.Apply(p)
	}

	m.mu.Lock()
	m.snapshot = points
	m.mu.Unlock()
}

// SnapshotSize returns the vertex count of the cached active-submap surface.
func (m *Mesher) SnapshotSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshot)
}

// Export writes the map surface to a PLY file at path. Returns false (after
// logging the cause) when the path is empty, the map holds no submaps, or
// the write fails.
func (m *Mesher) Export(path string, mode Mode) bool {
	if path == "" {
		monitoring.Logf("mesher: no export path configured")
		return false
	}
	if m.store.Size() == 0 {
		monitoring.Logf("mesher: map is empty, nothing to export")
		return false
	}

	var points []r3.Vec
	switch mode {
	case ModeCombined:
		points = m.store.Projected().SurfacePoints()
	case ModeSeparated:
		for _, id := range m.store.IDs() {
			s := m.store.ByID(id)
			pose := s.Pose()
			for _, p := range s.Layer().SurfacePoints() {
				points = append(points, pose.Apply(p))
			}
		}
	default:
		monitoring.Logf("mesher: unknown mode %q", mode)
		return false
	}

	if err := writePLY(path, points); err != nil {
		monitoring.Logf("mesher: export to %s failed: %v", path, err)
		return false
	}
	monitoring.Logf("mesher: exported %d vertices (%s) to %s", len(points), mode, path)
	return true
}

func writePLY(path string, points []r3.Vec) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "ply\nformat ascii 1.0\nelement vertex %d\n", len(points))
	fmt.Fprintf(w, "property float x\nproperty float y\nproperty float z\nend_header\n")
	for _, p := range points {
		fmt.Fprintf(w, "%g %g %g\n", p.X, p.Y, p.Z)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
