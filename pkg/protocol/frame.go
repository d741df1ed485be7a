// Package protocol implements the framed binary message format spoken by
// the realtime dialogue service: a fixed bit-packed header, optional
// extension words, and message-type-specific payload sections carrying
// event codes, session ids, and gzip-compressed JSON or raw audio bodies.
//
// The package is transport-agnostic: it turns logical operations into
// frames and inbound frames into [ServerResponse] values. One transport
// message equals one frame.
package protocol

import "fmt"

// Version is the only protocol version this codec speaks.
const Version = 0b0001

// headerWordSize is the width of one header word; header sizes on the wire
// are counted in these units.
const headerWordSize = 4

// MessageType identifies the frame kind, carried in the upper nibble of the
// second header byte.
type MessageType byte

const (
	MsgClientFullRequest  MessageType = 0b0001
	MsgClientAudioOnly    MessageType = 0b0010
	MsgServerFullResponse MessageType = 0b1001
	MsgServerAck          MessageType = 0b1011
	MsgServerError        MessageType = 0b1111
)

func (t MessageType) String() string {
	switch t {
	case MsgClientFullRequest:
		return "client_full_request"
	case MsgClientAudioOnly:
		return "client_audio_only"
	case MsgServerFullResponse:
		return "server_full_response"
	case MsgServerAck:
		return "server_ack"
	case MsgServerError:
		return "server_error"
	}
	return fmt.Sprintf("message_type(%#04b)", byte(t))
}

// Flags is the message-type-specific flag nibble.
type Flags byte

const (
	FlagNone        Flags = 0b0000
	FlagPosSequence Flags = 0b0001
	FlagNegSequence Flags = 0b0010
	FlagWithEvent   Flags = 0b0100
)

// Serialization identifies how the payload body is encoded before
// compression.
type Serialization byte

const (
	SerializationNone   Serialization = 0b0000
	SerializationJSON   Serialization = 0b0001
	SerializationThrift Serialization = 0b0011
	SerializationCustom Serialization = 0b1111
)

// Compression identifies the payload compression applied after
// serialization.
type Compression byte

const (
	CompressionNone   Compression = 0b0000
	CompressionGzip   Compression = 0b0001
	CompressionCustom Compression = 0b1111
)

// Header is the fixed 4-byte frame prefix plus its optional extension.
// Extension length must be a multiple of four; the on-wire header size is
// derived from it, never stored separately.
type Header struct {
	Version       byte
	Type          MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Reserved      byte
	Extension     []byte
}

// SizeWords returns the header size in 4-byte words as written to the wire.
func (h Header) SizeWords() int {
	return len(h.Extension)/headerWordSize + 1
}

// Encode packs the header into wire bytes. A zero Version is written as
// [Version]. Errors if the extension is not word-aligned or the resulting
// size does not fit the 4-bit size field.
func (h Header) Encode() ([]byte, error) {
	if len(h.Extension)%headerWordSize != 0 {
		return nil, fmt.Errorf("protocol: extension of %d bytes is not word-aligned: %w",
			len(h.Extension), ErrMalformedFrame)
	}
	size := h.SizeWords()
	if size > 0x0f {
		return nil, fmt.Errorf("protocol: header of %d words exceeds the size field: %w",
			size, ErrMalformedFrame)
	}
	version := h.Version
	if version == 0 {
		version = Version
	}

	buf := make([]byte, 0, headerWordSize+len(h.Extension))
	buf = append(buf,
		version<<4|byte(size),
		byte(h.Type)<<4|byte(h.Flags),
		byte(h.Serialization)<<4|byte(h.Compression),
		h.Reserved,
	)
	buf = append(buf, h.Extension...)
	return buf, nil
}

// DecodeHeader parses the header at the start of frame and returns it along
// with the bytes that follow it. Returns [ErrMalformedFrame] when frame is
// shorter than 4 bytes or shorter than its declared header size.
func DecodeHeader(frame []byte) (Header, []byte, error) {
	if len(frame) < headerWordSize {
		return Header{}, nil, fmt.Errorf("protocol: frame of %d bytes: %w", len(frame), ErrMalformedFrame)
	}
	size := int(frame[0] & 0x0f)
	if size < 1 {
		return Header{}, nil, fmt.Errorf("protocol: header size 0: %w", ErrMalformedFrame)
	}
	total := size * headerWordSize
	if len(frame) < total {
		return Header{}, nil, fmt.Errorf("protocol: frame of %d bytes shorter than %d-byte header: %w",
			len(frame), total, ErrMalformedFrame)
	}

	h := Header{
		Version:       frame[0] >> 4,
		Type:          MessageType(frame[1] >> 4),
		Flags:         Flags(frame[1] & 0x0f),
		Serialization: Serialization(frame[2] >> 4),
		Compression:   Compression(frame[2] & 0x0f),
		Reserved:      frame[3],
	}
	if total > headerWordSize {
		h.Extension = frame[headerWordSize:total]
	}
	return h, frame[total:], nil
}
