package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/monitoring"
)

// FrameHandler receives each decoded pointcloud frame.
type FrameHandler func(*mapping.PointcloudFrame)

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handler     FrameHandler
}

// UDPListener receives pointcloud packets from a sensor over UDP, decodes
// them and hands each frame to the configured handler.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	handler     FrameHandler
	conn        *net.UDPConn

	packets   atomic.Uint64
	badstreak atomic.Uint64
	malformed atomic.Uint64
	points    atomic.Uint64
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		handler:     config.Handler,
	}
}

// Addr returns the bound address, useful when the configured port was 0.
func (l *UDPListener) Addr() string {
	if l.conn == nil {
		return l.address
	}
	return l.conn.LocalAddr().String()
}

// Listen binds the socket and processes datagrams until the context is
// cancelled. Malformed packets are counted and dropped, never fatal.
func (l *UDPListener) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.address, err)
	}
	l.conn = conn
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("source: failed to set receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("source: listening for pointcloud packets on %s", conn.LocalAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	lastLog := time.Now()
	buf := make([]byte, 65535)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		l.packets.Add(1)

		frame, err := ParsePacket(buf[:n])
		if err != nil {
			l.malformed.Add(1)
			if streak := l.badstreak.Add(1); streak == 1 || streak%1000 == 0 {
				monitoring.Logf("source: dropped malformed packet (%d so far): %v", l.malformed.Load(), err)
			}
			continue
		}
		l.badstreak.Store(0)
		l.points.Add(uint64(len(frame.Points)))
		if l.handler != nil {
			l.handler(frame)
		}

		if time.Since(lastLog) >= l.logInterval {
			monitoring.Logf("source: %d packets, %d points, %d malformed",
				l.packets.Load(), l.points.Load(), l.malformed.Load())
			lastLog = time.Now()
		}
	}
}
