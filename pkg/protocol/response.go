package protocol

import (
	"encoding/binary"
	"fmt"
)

// ServerResponse is the decoded form of one inbound frame. Type is the
// discriminant: payload-dependent fields are only populated for the message
// kinds that carry them, so branch on Type before touching them.
type ServerResponse struct {
	Type MessageType

	Sequence    int32
	HasSequence bool

	Event    Event
	HasEvent bool

	SessionID string

	// ErrorCode is set for error responses only.
	ErrorCode uint32

	// Payload is the decompressed body. JSON payloads are validated but
	// left undecoded for the caller to unmarshal into typed structs.
	Payload []byte
}

// Err returns the [*ServerError] carried by an error response, nil for
// every other message kind.
func (r *ServerResponse) Err() error {
	if r.Type != MsgServerError {
		return nil
	}
	return &ServerError{Code: r.ErrorCode, Payload: r.Payload}
}

// ParseResponse decodes a complete inbound frame. Full responses and acks
// carry [seq][event][session-id][payload] sections gated by the header
// flags; error responses carry [code][payload]; unknown message types
// return the header fields with no payload. A negative declared session-id
// length is [ErrMalformedFrame], not a value to sign-correct.
func ParseResponse(frame []byte) (*ServerResponse, error) {
	h, rest, err := DecodeHeader(frame)
	if err != nil {
		return nil, err
	}
	r := &ServerResponse{Type: h.Type}
	cur := cursor{buf: rest}

	switch h.Type {
	case MsgServerFullResponse, MsgServerAck:
		if h.Flags&FlagNegSequence != 0 {
			seq, err := cur.uint32()
			if err != nil {
				return nil, err
			}
			r.Sequence = int32(seq)
			r.HasSequence = true
		}
		if h.Flags&FlagWithEvent != 0 {
			ev, err := cur.uint32()
			if err != nil {
				return nil, err
			}
			r.Event = Event(ev)
			r.HasEvent = true
		}

		sidLen, err := cur.uint32()
		if err != nil {
			return nil, err
		}
		if int32(sidLen) < 0 {
			return nil, fmt.Errorf("protocol: session id length %d: %w", int32(sidLen), ErrMalformedFrame)
		}
		sid, err := cur.bytes(int(sidLen))
		if err != nil {
			return nil, err
		}
		r.SessionID = string(sid)

		body, err := cur.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		payload, err := UnmarshalPayload(body, h.Serialization, h.Compression)
		if err != nil {
			return nil, err
		}
		r.Payload = payload

	case MsgServerError:
		code, err := cur.uint32()
		if err != nil {
			return nil, err
		}
		r.ErrorCode = code

		body, err := cur.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		payload, err := UnmarshalPayload(body, h.Serialization, h.Compression)
		if err != nil {
			return nil, err
		}
		r.Payload = payload

	default:
		// Unknown kinds surface header fields only; no payload contract.
	}

	return r, nil
}

// cursor walks a frame body with bounds checks; every short read is a
// malformed frame, never an out-of-range slice.
type cursor struct {
	buf []byte
}

func (c *cursor) uint32() (uint32, error) {
	if len(c.buf) < 4 {
		return 0, fmt.Errorf("protocol: truncated field, %d bytes left: %w", len(c.buf), ErrMalformedFrame)
	}
	v := binary.BigEndian.Uint32(c.buf)
	c.buf = c.buf[4:]
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if len(c.buf) < n {
		return nil, fmt.Errorf("protocol: truncated section, want %d bytes have %d: %w",
			n, len(c.buf), ErrMalformedFrame)
	}
	out := c.buf[:n]
	c.buf = c.buf[n:]
	return out, nil
}

func (c *cursor) lengthPrefixed() ([]byte, error) {
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	return c.bytes(int(n))
}
