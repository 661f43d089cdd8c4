// Package wire implements the push client's frame protocol: a 4-byte
// big-endian length prefix, a 1-byte type tag, and a JSON payload. JSON
// payloads rather than a fixed binary struct, since GraphReply is
// unbounded and variable-shaped.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolVersion is bumped whenever Hello/HelloAck/GraphReply's JSON shape
// changes in an incompatible way.
const ProtocolVersion uint16 = 1

// Type is the 1-byte frame tag.
type Type uint8

const (
	TypeHello Type = iota + 1
	TypeHelloAck
	TypeGraphReply
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeHelloAck:
		return "HELLO_ACK"
	case TypeGraphReply:
		return "GRAPH_REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// maxPayloadSize bounds a single frame's JSON payload against a corrupt or
// hostile length prefix.
const maxPayloadSize = 64 << 20

// Frame is one length-prefixed, type-tagged message on the wire.
type Frame struct {
	Type    Type
	Payload []byte
}

// Marshal serializes length+tag+payload, in that order.
func (f *Frame) Marshal() []byte {
	out := make([]byte, 4+1+len(f.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(f.Payload)+1))
	out[4] = byte(f.Type)
	copy(out[5:], f.Payload)
	return out
}

// ReadFrame reads one frame from r, blocking until it has the whole thing.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total == 0 {
		return nil, fmt.Errorf("peeps/wire: zero-length frame")
	}
	if total > maxPayloadSize {
		return nil, fmt.Errorf("peeps/wire: frame length %d exceeds max %d", total, maxPayloadSize)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Frame{Type: Type(body[0]), Payload: body[1:]}, nil
}

// WriteFrame writes f to w as one contiguous write.
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.Marshal())
	return err
}

// EncodeHello marshals h into a Hello frame.
func EncodeHello(h Hello) (*Frame, error) {
	payload, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: TypeHello, Payload: payload}, nil
}

// EncodeHelloAck marshals a into a HelloAck frame.
func EncodeHelloAck(a HelloAck) (*Frame, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: TypeHelloAck, Payload: payload}, nil
}

// EncodeGraphReply marshals g into a GraphReply frame.
func EncodeGraphReply(g GraphReply) (*Frame, error) {
	payload, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: TypeGraphReply, Payload: payload}, nil
}

// DecodeHello unmarshals a Hello frame's payload.
func DecodeHello(f *Frame) (Hello, error) {
	var h Hello
	if f.Type != TypeHello {
		return h, fmt.Errorf("peeps/wire: expected HELLO, got %s", f.Type)
	}
	err := json.Unmarshal(f.Payload, &h)
	return h, err
}

// DecodeHelloAck unmarshals a HelloAck frame's payload.
func DecodeHelloAck(f *Frame) (HelloAck, error) {
	var a HelloAck
	if f.Type != TypeHelloAck {
		return a, fmt.Errorf("peeps/wire: expected HELLO_ACK, got %s", f.Type)
	}
	err := json.Unmarshal(f.Payload, &a)
	return a, err
}

// DecodeGraphReply unmarshals a GraphReply frame's payload.
func DecodeGraphReply(f *Frame) (GraphReply, error) {
	var g GraphReply
	if f.Type != TypeGraphReply {
		return g, fmt.Errorf("peeps/wire: expected GRAPH_REPLY, got %s", f.Type)
	}
	err := json.Unmarshal(f.Payload, &g)
	return g, err
}
