package mapping

import (
	"time"

	"github.com/banshee-data/submap.report/internal/monitoring"
)

// DefaultQueueBound is the maximum ingest queue backlog. Reaching the bound
// with an unresolvable front entry flushes the whole queue.
const DefaultQueueBound = 10

// overflowWarnWindow rate-limits the queue overflow warning.
const overflowWarnWindow = 60 * time.Second

// IngestQueue buffers inbound pointcloud frames and drains them in strict
// arrival order, gated on transform availability. Enqueue throttles frames
// closer together than the configured minimum interval. The queue performs no
// integration itself; Next hands (frame, transform) pairs to the caller.
//
// IngestQueue is not safe for concurrent use. The dispatcher guarantees
// exclusive access during each callback.
type IngestQueue struct {
	resolver    TransformResolver
	minInterval time.Duration
	bound       int

	entries      []QueueEntry
	lastAccepted time.Time
	haveAccepted bool

	warn *monitoring.Throttled
	now  func() time.Time
}

// IngestQueueConfig configures an IngestQueue.
type IngestQueueConfig struct {
	// Resolver looks up sensor-to-world transforms. Required.
	Resolver TransformResolver
	// MinInterval is the minimum spacing between accepted frame timestamps.
	// Zero accepts every frame.
	MinInterval time.Duration
	// Bound is the maximum backlog before an overflow flush (default 10).
	Bound int
}

// NewIngestQueue creates an IngestQueue.
func NewIngestQueue(cfg IngestQueueConfig) *IngestQueue {
	bound := cfg.Bound
	if bound <= 0 {
		bound = DefaultQueueBound
	}
	return &IngestQueue{
		resolver:    cfg.Resolver,
		minInterval: cfg.MinInterval,
		bound:       bound,
		warn:        monitoring.NewThrottled(overflowWarnWindow),
		now:         time.Now,
	}
}

// SetClock replaces the wall-clock source. Intended for tests.
func (q *IngestQueue) SetClock(now func() time.Time) { q.now = now }

// Len returns the current backlog size.
func (q *IngestQueue) Len() int { return len(q.entries) }

// Enqueue accepts the frame unless it arrives sooner than the minimum
// interval after the last accepted frame. Throttled frames are silently
// discarded; this is flow control, not an error. Returns true if accepted.
func (q *IngestQueue) Enqueue(frame *PointcloudFrame) bool {
	if frame == nil {
		return false
	}
	if q.haveAccepted && frame.Timestamp.Sub(q.lastAccepted) <= q.minInterval {
		metricFramesThrottled.Inc()
		return false
	}
	q.lastAccepted = frame.Timestamp
	q.haveAccepted = true
	q.entries = append(q.entries, QueueEntry{Frame: frame, EnqueuedAt: q.now()})
	metricFramesAccepted.Inc()
	return true
}

// Next attempts to dequeue the front frame. It returns (frame, transform,
// true) when the front entry's transform resolved, and ok=false when the
// queue is empty or the front entry is still blocked. A blocked front entry
// stays queued so later calls retry it; if the backlog has reached the bound
// the entire queue is flushed and a rate-limited warning is emitted.
//
// Strict FIFO: a later frame is never dequeued ahead of an earlier one, even
// if its transform resolves first.
func (q *IngestQueue) Next() (*PointcloudFrame, Transform, bool) {
	if len(q.entries) == 0 {
		return nil, Transform{}, false
	}
	front := q.entries[0].Frame
	transform, ok := q.resolver.Resolve(front.FrameID, front.Timestamp)
	if ok {
		q.entries = q.entries[1:]
		metricFramesDispatched.Inc()
		return front, transform, true
	}
	if len(q.entries) >= q.bound {
		flushed := len(q.entries)
		q.entries = q.entries[:0]
		metricFramesFlushed.Add(float64(flushed))
		q.warn.Logf("ingest-overflow",
			"ingest queue too long, dropping %d pointclouds: transforms are unresolvable or processing is falling behind", flushed)
	}
	return nil, Transform{}, false
}
