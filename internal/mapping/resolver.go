package mapping

import (
	"sort"
	"sync"
	"time"
)

// StaticResolver resolves every lookup to a fixed transform. Useful for
// bench rigs where the sensor does not move.
type StaticResolver struct {
	Transform Transform
}

// Resolve implements TransformResolver.
func (s StaticResolver) Resolve(string, time.Time) (Transform, bool) {
	return s.Transform, true
}

// PoseBuffer is a TransformResolver backed by a buffer of stamped poses per
// sensor frame, typically fed by an external odometry source. Lookups resolve
// to the latest sample at or before the requested timestamp, provided one
// exists within the configured tolerance. Lookups ahead of the newest sample
// fail so the ingest queue retries once odometry catches up.
//
// PoseBuffer is safe for concurrent use: odometry feeds it from its own
// goroutine while the dispatcher resolves.
type PoseBuffer struct {
	mu        sync.RWMutex
	tolerance time.Duration
	maxAge    time.Duration
	samples   map[string][]stampedPose
}

type stampedPose struct {
	ts   time.Time
	pose Transform
}

// NewPoseBuffer creates a PoseBuffer. tolerance bounds how stale a resolved
// sample may be relative to the requested timestamp; maxAge bounds buffer
// growth (older samples are pruned on insert). Zero values use defaults.
func NewPoseBuffer(tolerance, maxAge time.Duration) *PoseBuffer {
	if tolerance <= 0 {
		tolerance = 250 * time.Millisecond
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &PoseBuffer{
		tolerance: tolerance,
		maxAge:    maxAge,
		samples:   make(map[string][]stampedPose),
	}
}

// Add records a pose sample for the frame at the given timestamp.
func (b *PoseBuffer) Add(frameID string, ts time.Time, pose Transform) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.samples[frameID]
	// Samples normally arrive in order; insert sorted to tolerate jitter.
	i := sort.Search(len(s), func(i int) bool { return s[i].ts.After(ts) })
	s = append(s, stampedPose{})
	copy(s[i+1:], s[i:])
	s[i] = stampedPose{ts: ts, pose: pose}

	// Prune samples older than maxAge behind the newest.
	cutoff := s[len(s)-1].ts.Add(-b.maxAge)
	keep := 0
	for keep < len(s)-1 && s[keep].ts.Before(cutoff) {
		keep++
	}
	b.samples[frameID] = s[keep:]
}

// Resolve implements TransformResolver.
func (b *PoseBuffer) Resolve(frameID string, ts time.Time) (Transform, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.samples[frameID]
	if len(s) == 0 {
		return Transform{}, false
	}
	// Latest sample at or before ts.
	i := sort.Search(len(s), func(i int) bool { return s[i].ts.After(ts) })
	if i == 0 {
		return Transform{}, false
	}
	candidate := s[i-1]
	if ts.Sub(candidate.ts) > b.tolerance {
		return Transform{}, false
	}
	return candidate.pose, true
}
