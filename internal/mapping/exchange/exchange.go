package exchange

import (
	"fmt"
	"time"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/mapping/submap"
	"github.com/banshee-data/submap.report/internal/mapping/timing"
	"github.com/banshee-data/submap.report/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submap_exchange_messages_sent_total",
		Help: "Serialised submap messages emitted on the outbound channel.",
	})
	metricMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submap_exchange_messages_received_total",
		Help: "Inbound submap messages merged into the store.",
	})
	metricMessagesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submap_exchange_messages_rejected_total",
		Help: "Inbound submap messages rejected as malformed.",
	})
)

// Wire is the outbound channel submap messages are emitted on. Publication
// is presentation-layer work: when nobody subscribes the exchange skips
// serialisation entirely.
type Wire interface {
	SubscriberCount() int
	Send(data []byte)
}

// Exchange serialises submaps for publication and merges inbound messages.
type Exchange struct {
	store    *submap.Store
	wire     Wire
	recorder *timing.Recorder
}

// New creates an Exchange. wire may be nil (publishing disabled); recorder
// may be nil (timing disabled).
func New(store *submap.Store, wire Wire, recorder *timing.Recorder) *Exchange {
	return &Exchange{store: store, wire: wire, recorder: recorder}
}

func (x *Exchange) startTimer(name string) func() {
	if reg := x.recorder.Registry(); reg != nil {
		return reg.Start(name)
	}
	return func() {}
}

// Publish serialises a submap and emits it on the wire.
//
// With global=false the stored submap with the given ID is published; when
// it no longer exists this is a no-op. With global=true a transient snapshot
// of the whole map is synthesised: ID 0, identity pose, and the projection
// of every stored submap as payload. The synthetic record is owned by this
// call and discarded after serialisation.
func (x *Exchange) Publish(id submap.ID, global bool) {
	if x.wire == nil || x.wire.SubscriberCount() == 0 {
		return
	}
	if !global && !x.store.Exists(id) {
		return
	}
	stopPublish := x.startTimer("exchange/publish")
	defer stopPublish()

	var msg Message
	if global {
		stopProject := x.startTimer("exchange/project global map")
		merged := x.store.Projected()
		stopProject()

		stopSerialize := x.startTimer("exchange/serialize")
		payload, err := merged.MarshalBinary()
		stopSerialize()
		if err != nil {
			monitoring.Logf("exchange: failed to serialize global map: %v", err)
			return
		}
		msg = Message{ID: 0, Pose: mapping.Identity(), Payload: payload, Global: true}
	} else {
		s := x.store.ByID(id)
		stopSerialize := x.startTimer("exchange/serialize")
		payload, err := s.Layer().MarshalBinary()
		stopSerialize()
		if err != nil {
			monitoring.Logf("exchange: failed to serialize submap %d: %v", id, err)
			return
		}
		msg = Message{ID: int64(id), Pose: s.Pose(), Payload: payload}
	}

	stopSend := x.startTimer("exchange/send")
	x.wire.Send(Marshal(msg))
	stopSend()

	metricMessagesSent.Inc()
	x.recorder.Record("sent", x.store.Size(), time.Now())
}

// Receive decodes an inbound wire message and merges it into the store.
// The decoded payload passes through unchanged; merge semantics belong to
// the store. Malformed messages are rejected with an error.
func (x *Exchange) Receive(data []byte) error {
	now := time.Now()
	stop := x.startTimer("exchange/receive")
	defer stop()

	msg, err := Unmarshal(data)
	if err != nil {
		metricMessagesRejected.Inc()
		return fmt.Errorf("decode submap message: %w", err)
	}
	layer, err := submap.UnmarshalLayer(msg.Payload)
	if err != nil {
		metricMessagesRejected.Inc()
		return fmt.Errorf("decode submap %d payload: %w", msg.ID, err)
	}

	if msg.Global {
		// A whole-map snapshot carries the reserved ID 0 and cannot be
		// merged as a submap record.
		metricMessagesRejected.Inc()
		return fmt.Errorf("refusing to merge global snapshot into submap store")
	}

	rec := submap.NewSubmap(submap.ID(msg.ID), msg.Pose, layer)
	if err := x.store.Merge(rec); err != nil {
		metricMessagesRejected.Inc()
		return fmt.Errorf("merge submap %d: %w", msg.ID, err)
	}

	metricMessagesReceived.Inc()
	x.recorder.Record("received", x.store.Size(), now)
	return nil
}
