// Package submap owns the collection of submaps: bounded, independently
// finalisable chunks of fused volumetric map data. The Store is the single
// owner of all submap records; every other component refers to submaps by ID.
package submap

import (
	"time"

	"github.com/banshee-data/submap.report/internal/mapping"
)

// ID identifies a submap within a store. IDs are assigned monotonically by
// the store. ID 0 is reserved for synthetic global-merge snapshots on the
// wire; stored submaps start at 1.
type ID int64

// Submap is one bounded span of integrated frames with its own voxel layer,
// expressed relative to the submap base pose.
type Submap struct {
	id    ID
	pose  mapping.Transform
	layer *Layer

	recordingStart time.Time
	recordingEnd   time.Time
}

// NewSubmap builds a standalone submap record. Most callers should use
// Store.Create instead; this constructor exists for deserialisation and for
// the transient global-merge record, which is never stored.
func NewSubmap(id ID, pose mapping.Transform, layer *Layer) *Submap {
	if layer == nil {
		layer = NewLayer(LayerConfig{})
	}
	return &Submap{id: id, pose: pose, layer: layer}
}

// ID returns the submap identifier.
func (s *Submap) ID() ID { return s.id }

// Pose returns the submap base pose (submap frame → world frame).
func (s *Submap) Pose() mapping.Transform { return s.pose }

// Layer returns the submap's voxel layer.
func (s *Submap) Layer() *Layer { return s.layer }

// StartRecording marks the beginning of the submap's integration span.
func (s *Submap) StartRecording(ts time.Time) { s.recordingStart = ts }

// EndRecording marks the end of the submap's integration span.
func (s *Submap) EndRecording(ts time.Time) { s.recordingEnd = ts }

// RecordingSpan returns the recording start and end timestamps. The end is
// zero while the submap is still active.
func (s *Submap) RecordingSpan() (start, end time.Time) {
	return s.recordingStart, s.recordingEnd
}
