package server

import (
	"context"
	"time"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/monitoring"
)

const frameBacklog = 16

// Dispatcher serializes the session's event sources onto one goroutine:
// frame arrival, inbound submap messages, and the periodic mesh refresh.
// Integration therefore runs single-threaded and event order is the
// arrival order.
type Dispatcher struct {
	server      *Server
	meshEvery   time.Duration
	frames      chan *mapping.PointcloudFrame
	submaps     chan []byte
	droppedSubs int
}

// NewDispatcher wires a dispatcher to a session. meshEvery ≤ 0 disables
// the mesh refresh tick.
func NewDispatcher(s *Server, meshEvery time.Duration) *Dispatcher {
	return &Dispatcher{
		server:    s,
		meshEvery: meshEvery,
		frames:    make(chan *mapping.PointcloudFrame, frameBacklog),
		// Inbound submaps are processed one at a time; a message arriving
		// while the slot is occupied is dropped and resent by the peer's
		// next publish.
		submaps: make(chan []byte, 1),
	}
}

// OfferFrame hands a frame to the dispatch loop. Drops when the loop is
// behind; the ingest queue's own throttle makes sustained loss unlikely.
func (d *Dispatcher) OfferFrame(frame *mapping.PointcloudFrame) bool {
	select {
	case d.frames <- frame:
		return true
	default:
		return false
	}
}

// OfferSubmap hands an inbound exchange message to the dispatch loop.
func (d *Dispatcher) OfferSubmap(data []byte) bool {
	select {
	case d.submaps <- data:
		return true
	default:
		d.droppedSubs++
		monitoring.Logf("dispatch: submap slot busy, dropped inbound message (%d total)", d.droppedSubs)
		return false
	}
}

// Run processes events until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if d.meshEvery > 0 {
		t := time.NewTicker(d.meshEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-d.frames:
			d.server.HandlePointcloud(frame)
		case data := <-d.submaps:
			d.server.HandleSubmapMessage(data)
		case <-tick:
			d.server.RefreshMesh()
		}
	}
}
