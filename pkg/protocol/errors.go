package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame reports a frame that is shorter than its own declared
// layout or carries an impossible length field. The frame is unusable but
// subsequent frames are independent, so callers may drop it and continue.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// ErrUnsupportedSerialization reports a serialization method this codec
// refuses to produce or consume (the Thrift and custom slots). Raised
// synchronously at the call site so a bad wire message is never emitted.
var ErrUnsupportedSerialization = errors.New("protocol: unsupported serialization")

// ErrUnsupportedCompression reports a compression method outside the
// none/gzip set.
var ErrUnsupportedCompression = errors.New("protocol: unsupported compression")

// DecodeError reports a payload-level failure (gzip corruption or invalid
// JSON) on an otherwise well-framed message. Distinct from
// [ErrMalformedFrame] so callers can log it and keep the stream alive.
type DecodeError struct {
	Stage string // "gzip" or "json"
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerError is the decoded form of an error-response frame. The caller
// decides whether the code is fatal for the session.
type ServerError struct {
	Code    uint32
	Payload []byte
}

func (e *ServerError) Error() string {
	if len(e.Payload) == 0 {
		return fmt.Sprintf("protocol: server error %d", e.Code)
	}
	return fmt.Sprintf("protocol: server error %d: %s", e.Code, e.Payload)
}
