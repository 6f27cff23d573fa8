// Package mapping contains the shared data model for the submap server:
// pointcloud frames, rigid transforms, and the transform-gated ingest queue.
package mapping

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Color is a per-point RGB sample.
type Color struct {
	R, G, B uint8
}

// Point is a single 3D point with its color.
type Point struct {
	Position r3.Vec
	Color    Color
}

// PointcloudFrame is one captured cloud from a sensor. Frames are immutable
// once enqueued; the queue and the integrator only read them.
type PointcloudFrame struct {
	// Timestamp is the capture time used for throttling and transform lookup.
	Timestamp time.Time
	// FrameID names the sensor reference frame the points are expressed in.
	FrameID string
	// Points in arrival order.
	Points []Point
}

// QueueEntry pairs a frame with the wall-clock time it entered the queue.
type QueueEntry struct {
	Frame      *PointcloudFrame
	EnqueuedAt time.Time
}

// TransformResolver looks up the rigid transform from the sensor frame to the
// world frame at a given timestamp. Resolution must not block: when the
// transform is not yet available the resolver returns ok=false and the caller
// retries on a later drain.
type TransformResolver interface {
	Resolve(frameID string, ts time.Time) (Transform, bool)
}
