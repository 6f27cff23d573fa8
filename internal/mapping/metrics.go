package mapping

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest queue metrics. Registered on the default registry and exposed by the
// status server's /metrics endpoint.
var (
	metricFramesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submap_ingest_frames_accepted_total",
		Help: "Pointcloud frames accepted into the ingest queue.",
	})
	metricFramesThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submap_ingest_frames_throttled_total",
		Help: "Pointcloud frames discarded by the minimum-interval throttle.",
	})
	metricFramesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submap_ingest_frames_flushed_total",
		Help: "Pointcloud frames dropped by the queue overflow flush.",
	})
	metricFramesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submap_ingest_frames_dispatched_total",
		Help: "Pointcloud frames dequeued with a resolved transform.",
	})
)
