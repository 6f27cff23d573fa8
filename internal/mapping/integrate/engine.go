// Package integrate fuses pose-tagged pointclouds into the active submap's
// voxel layer. The engine always targets the store's active submap; the
// lifecycle manager rewires it on rollover via SwitchToActiveSubmap, so a
// finalised submap can never receive late frames.
package integrate

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/mapping/submap"
)

// Config tunes the integration behaviour.
type Config struct {
	// MinRange and MaxRange bound accepted point distances from the sensor
	// origin, in metres. Points outside are skipped.
	MinRange float64
	MaxRange float64
	// ObservationWeight is the weight of one point observation.
	ObservationWeight float64
}

// DefaultConfig returns the standard integration tuning.
func DefaultConfig() Config {
	return Config{
		MinRange:          0.1,
		MaxRange:          50.0,
		ObservationWeight: 1.0,
	}
}

// Engine integrates pointclouds into the active submap.
type Engine struct {
	cfg    Config
	store  *submap.Store
	target *submap.Submap
}

// NewEngine creates an engine over the store. The engine has no target until
// the first SwitchToActiveSubmap call.
func NewEngine(store *submap.Store, cfg Config) *Engine {
	if cfg.MaxRange <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.ObservationWeight <= 0 {
		cfg.ObservationWeight = 1.0
	}
	return &Engine{cfg: cfg, store: store}
}

// SwitchToActiveSubmap retargets integration at the store's current active
// submap. Called by the lifecycle manager after creating a submap.
func (e *Engine) SwitchToActiveSubmap() {
	e.target = e.store.Active()
}

// Target returns the current integration target's ID; ok is false when the
// engine has not been targeted yet.
func (e *Engine) Target() (submap.ID, bool) {
	if e.target == nil {
		return 0, false
	}
	return e.target.ID(), true
}

// Integrate fuses one frame into the target submap. pose maps the sensor
// frame to the world frame; points are re-expressed in the submap base frame
// before the voxel update. Returns the number of points integrated.
func (e *Engine) Integrate(pose mapping.Transform, frame *mapping.PointcloudFrame) (int, error) {
	if e.target == nil {
		return 0, fmt.Errorf("integration engine has no target submap")
	}
	if frame == nil {
		return 0, fmt.Errorf("nil pointcloud frame")
	}

	// sensor frame → world → submap base frame
	toSubmap := e.target.Pose().Inverse().Compose(pose)
	layer := e.target.Layer()

	integrated := 0
	for _, pt := range frame.Points {
		rng := r3.Norm(pt.Position)
		if rng < e.cfg.MinRange || rng > e.cfg.MaxRange {
			continue
		}
		layer.UpdateVoxel(toSubmap.Apply(pt.Position), 0, e.cfg.ObservationWeight)
		integrated++
	}
	return integrated, nil
}
