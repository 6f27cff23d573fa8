// Package source receives pointcloud frames from the network: a binary
// packet codec, a UDP listener for live sensors, and (behind the pcap build
// tag) offline replay from capture files.
package source

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping"
)

// Packet layout, little-endian:
//
//	uint32  magic "SMPC"
//	uint16  version
//	int64   capture timestamp, unix nanoseconds
//	uint8   frame id length, then that many bytes
//	uint32  point count
//	per point: float32 x, y, z; uint8 r, g, b
const (
	packetMagic   = 0x534d5043
	packetVersion = 1

	// MaxPointsPerPacket keeps one frame inside typical jumbo datagrams.
	MaxPointsPerPacket = 4000

	pointSize  = 15
	headerSize = 4 + 2 + 8 + 1 + 4
)

// MarshalPacket encodes a frame for transmission.
func MarshalPacket(f *mapping.PointcloudFrame) ([]byte, error) {
	if len(f.FrameID) > 255 {
		return nil, fmt.Errorf("frame id %q too long", f.FrameID)
	}
	if len(f.Points) > MaxPointsPerPacket {
		return nil, fmt.Errorf("%d points exceed packet limit %d", len(f.Points), MaxPointsPerPacket)
	}
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(f.FrameID)+pointSize*len(f.Points)))
	for _, v := range []interface{}{
		uint32(packetMagic),
		uint16(packetVersion),
		f.Timestamp.UnixNano(),
		uint8(len(f.FrameID)),
	} {
		binary.Write(buf, binary.LittleEndian, v)
	}
	buf.WriteString(f.FrameID)
	binary.Write(buf, binary.LittleEndian, uint32(len(f.Points)))
	for _, p := range f.Points {
		binary.Write(buf, binary.LittleEndian, float32(p.Position.X))
		binary.Write(buf, binary.LittleEndian, float32(p.Position.Y))
		binary.Write(buf, binary.LittleEndian, float32(p.Position.Z))
		buf.Write([]byte{p.Color.R, p.Color.G, p.Color.B})
	}
	return buf.Bytes(), nil
}

// ParsePacket decodes one datagram into a frame.
func ParsePacket(data []byte) (*mapping.PointcloudFrame, error) {
	r := bytes.NewReader(data)
	var (
		magic   uint32
		version uint16
		stamp   int64
		idLen   uint8
	)
	for _, v := range []interface{}{&magic, &version, &stamp, &idLen} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("packet header: %w", err)
		}
	}
	if magic != packetMagic {
		return nil, fmt.Errorf("bad packet magic 0x%08x", magic)
	}
	if version != packetVersion {
		return nil, fmt.Errorf("unsupported packet version %d", version)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return nil, fmt.Errorf("frame id: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("point count: %w", err)
	}
	if count > MaxPointsPerPacket {
		return nil, fmt.Errorf("implausible point count %d", count)
	}
	if int64(count)*pointSize != int64(r.Len()) {
		return nil, fmt.Errorf("payload size mismatch: %d points declared, %d bytes left", count, r.Len())
	}

	points := make([]mapping.Point, count)
	for i := range points {
		var xyz [3]float32
		binary.Read(r, binary.LittleEndian, &xyz)
		var rgb [3]byte
		r.Read(rgb[:])
		points[i] = mapping.Point{
			Position: r3.Vec{X: float64(xyz[0]), Y: float64(xyz[1]), Z: float64(xyz[2])},
			Color:    mapping.Color{R: rgb[0], G: rgb[1], B: rgb[2]},
		}
	}
	return &mapping.PointcloudFrame{
		Timestamp: time.Unix(0, stamp),
		FrameID:   string(id),
		Points:    points,
	}, nil
}
