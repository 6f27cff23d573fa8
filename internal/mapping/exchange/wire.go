// Package exchange serialises submaps onto a wire channel and merges inbound
// submap messages into the store.
//
// The envelope is protobuf wire format, hand-encoded with protowire so the
// schema stays in one place without a code generation step:
//
//	message SubmapMessage {
//	  int64  id        = 1;
//	  Pose   pose      = 2;   // rot w,x,y,z then trans x,y,z as doubles
//	  bytes  payload   = 3;   // serialised voxel layer
//	  bool   is_global = 4;
//	}
package exchange

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/submap.report/internal/mapping"
)

// Message is the wire-level representation of a submap. ID 0 with an
// identity pose marks a merged whole-map snapshot.
type Message struct {
	ID      int64
	Pose    mapping.Transform
	Payload []byte
	Global  bool
}

// Field numbers of the SubmapMessage envelope.
const (
	fieldID      = 1
	fieldPose    = 2
	fieldPayload = 3
	fieldGlobal  = 4
)

// Pose sub-message field numbers.
const (
	fieldRotW = iota + 1
	fieldRotX
	fieldRotY
	fieldRotZ
	fieldTransX
	fieldTransY
	fieldTransZ
)

func appendPose(b []byte, t mapping.Transform) []byte {
	vals := [7]float64{
		t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag,
		t.Translation.X, t.Translation.Y, t.Translation.Z,
	}
	for i, v := range vals {
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func consumePose(b []byte) (mapping.Transform, error) {
	var vals [7]float64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return mapping.Transform{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.Fixed64Type || num < 1 || num > 7 {
			return mapping.Transform{}, fmt.Errorf("unexpected pose field %d type %d", num, typ)
		}
		u, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return mapping.Transform{}, protowire.ParseError(n)
		}
		b = b[n:]
		vals[num-1] = math.Float64frombits(u)
	}
	return mapping.NewTransform(
		quat.Number{Real: vals[0], Imag: vals[1], Jmag: vals[2], Kmag: vals[3]},
		r3.Vec{X: vals[4], Y: vals[5], Z: vals[6]},
	), nil
}

// Marshal encodes the message.
func Marshal(m Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ID))
	b = protowire.AppendTag(b, fieldPose, protowire.BytesType)
	b = protowire.AppendBytes(b, appendPose(nil, m.Pose))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Payload)
	if m.Global {
		b = protowire.AppendTag(b, fieldGlobal, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// Unmarshal decodes a message. Unknown fields are skipped so the envelope
// can grow; malformed framing is an error.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	m.Pose = mapping.Identity()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			m.ID = int64(v)
		case num == fieldPose && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			pose, err := consumePose(v)
			if err != nil {
				return Message{}, fmt.Errorf("pose: %w", err)
			}
			m.Pose = pose
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			m.Payload = append([]byte(nil), v...)
		case num == fieldGlobal && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			m.Global = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}
