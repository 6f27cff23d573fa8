package exchange

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/submap.report/internal/monitoring"
)

// PublisherConfig holds configuration for the exchange gRPC server.
type PublisherConfig struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061").
	ListenAddr string
	// ClientQueue is the per-subscriber buffer depth; slow subscribers drop
	// messages rather than stall the publisher.
	ClientQueue int
}

// DefaultPublisherConfig returns a default configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		ListenAddr:  "localhost:50061",
		ClientQueue: 8,
	}
}

// Publisher serves the submap exchange over gRPC: peers subscribe to a
// server stream of serialised submap messages and push their own submaps
// back over the unary Push method. Publisher implements Wire.
//
// The service uses a raw byte codec, so no generated stubs are involved;
// message framing is the protowire envelope from this package.
type Publisher struct {
	config   PublisherConfig
	server   *grpc.Server
	listener net.Listener

	clients     map[string]chan []byte
	clientsMu   sync.RWMutex
	clientCount atomic.Int32
	clientSeq   atomic.Uint64

	droppedMsgs atomic.Uint64
	running     atomic.Bool

	// onPush receives inbound submap messages. Wired to the dispatcher so
	// merges run on the single-threaded dispatch loop.
	onPush func(data []byte) error
}

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.ClientQueue <= 0 {
		cfg.ClientQueue = DefaultPublisherConfig().ClientQueue
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]chan []byte),
	}
}

// OnPush installs the inbound message handler. Must be set before Start.
func (p *Publisher) OnPush(fn func(data []byte) error) {
	p.onPush = fn
}

// Start binds the listener and begins serving.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	p.listener = lis
	p.server = grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	p.server.RegisterService(&exchangeServiceDesc, p)
	p.running.Store(true)

	go func() {
		monitoring.Logf("exchange: serving on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("exchange: server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server and disconnects subscribers.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	p.server.GracefulStop()
}

// Addr returns the bound listen address, useful when ListenAddr used port 0.
func (p *Publisher) Addr() string {
	if p.listener == nil {
		return p.config.ListenAddr
	}
	return p.listener.Addr().String()
}

// SubscriberCount implements Wire.
func (p *Publisher) SubscriberCount() int {
	return int(p.clientCount.Load())
}

// Send implements Wire: the message is fanned out to every subscriber.
// Slow subscribers drop messages; submaps are snapshots, so a dropped one
// is superseded by the next publish of the same submap.
func (p *Publisher) Send(data []byte) {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for id, ch := range p.clients {
		select {
		case ch <- data:
		default:
			dropped := p.droppedMsgs.Add(1)
			monitoring.Logf("exchange: dropped message for slow subscriber %s (total dropped: %d)", id, dropped)
		}
	}
}

func (p *Publisher) addClient() (string, chan []byte) {
	id := fmt.Sprintf("peer-%d", p.clientSeq.Add(1))
	ch := make(chan []byte, p.config.ClientQueue)
	p.clientsMu.Lock()
	p.clients[id] = ch
	p.clientsMu.Unlock()
	p.clientCount.Add(1)
	monitoring.Logf("exchange: subscriber connected: %s (total: %d)", id, p.clientCount.Load())
	return id, ch
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		p.clientsMu.Unlock()
		p.clientCount.Add(-1)
		monitoring.Logf("exchange: subscriber disconnected: %s (remaining: %d)", id, p.clientCount.Load())
		return
	}
	p.clientsMu.Unlock()
}

// subscribe streams published submap messages to one peer until the peer
// disconnects or the server stops.
func (p *Publisher) subscribe(stream grpc.ServerStream) error {
	id, ch := p.addClient()
	defer p.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-ch:
			if err := stream.SendMsg(&rawMessage{data: data}); err != nil {
				return err
			}
		}
	}
}

// push handles one inbound submap message.
func (p *Publisher) push(_ context.Context, data []byte) error {
	if p.onPush == nil {
		return status.Error(codes.Unavailable, "inbound submaps not accepted")
	}
	if err := p.onPush(data); err != nil {
		return status.Errorf(codes.InvalidArgument, "submap rejected: %v", err)
	}
	return nil
}

// gRPC plumbing. The service descriptor is written out by hand because the
// messages are raw protowire envelopes, not generated types.

// rawMessage carries pre-encoded bytes through the gRPC codec.
type rawMessage struct {
	data []byte
}

// rawCodec passes message bytes through untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	m.data = data
	return nil
}

func (rawCodec) Name() string { return "raw" }

const exchangeServiceName = "submap.Exchange"

var exchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: exchangeServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Push",
			Handler:    pushHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
}

func pushHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var in rawMessage
	if err := dec(&in); err != nil {
		return nil, err
	}
	if err := srv.(*Publisher).push(ctx, in.data); err != nil {
		return nil, err
	}
	return &rawMessage{}, nil
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	// The subscribe request carries no parameters; consume the framing.
	var in rawMessage
	if err := stream.RecvMsg(&in); err != nil {
		return err
	}
	return srv.(*Publisher).subscribe(stream)
}
