package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildFullResponse assembles a server full-response or ack frame with the
// given sections, compressing the payload per the header.
func buildFullResponse(t *testing.T, h Header, seq uint32, event Event, sessionID string, payload []byte) []byte {
	t.Helper()

	head, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame := append([]byte{}, head...)
	if h.Flags&FlagNegSequence != 0 {
		frame = binary.BigEndian.AppendUint32(frame, seq)
	}
	if h.Flags&FlagWithEvent != 0 {
		frame = binary.BigEndian.AppendUint32(frame, uint32(event))
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(sessionID)))
	frame = append(frame, sessionID...)

	body, err := compress(payload, h.Compression)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	return append(frame, body...)
}

func buildErrorResponse(t *testing.T, comp Compression, code uint32, payload []byte) []byte {
	t.Helper()

	h := Header{Type: MsgServerError, Serialization: SerializationJSON, Compression: comp}
	head, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame := append([]byte{}, head...)
	frame = binary.BigEndian.AppendUint32(frame, code)

	body, err := compress(payload, comp)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	return append(frame, body...)
}

func TestParseFullResponse(t *testing.T) {
	t.Parallel()

	h := Header{
		Type:          MsgServerFullResponse,
		Flags:         FlagNegSequence | FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
	}
	frame := buildFullResponse(t, h, 9, EventSessionStarted, "sess-1", []byte(`{"dialog_id":"d-1"}`))

	r, err := ParseResponse(frame)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if r.Type != MsgServerFullResponse {
		t.Errorf("type = %v", r.Type)
	}
	if !r.HasSequence || r.Sequence != 9 {
		t.Errorf("sequence = %d (present %v), want 9", r.Sequence, r.HasSequence)
	}
	if !r.HasEvent || r.Event != EventSessionStarted {
		t.Errorf("event = %v (present %v), want session_started", r.Event, r.HasEvent)
	}
	if r.SessionID != "sess-1" {
		t.Errorf("session id = %q", r.SessionID)
	}
	if !bytes.Equal(r.Payload, []byte(`{"dialog_id":"d-1"}`)) {
		t.Errorf("payload = %q", r.Payload)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil", r.Err())
	}
}

func TestParseAckWithoutSequence(t *testing.T) {
	t.Parallel()

	h := Header{
		Type:          MsgServerAck,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionNone,
	}
	frame := buildFullResponse(t, h, 0, EventConnectionStarted, "", []byte(`{}`))

	r, err := ParseResponse(frame)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if r.HasSequence {
		t.Error("sequence unexpectedly present")
	}
	if !r.HasEvent || r.Event != EventConnectionStarted {
		t.Errorf("event = %v, want connection_started", r.Event)
	}
	if r.SessionID != "" {
		t.Errorf("session id = %q, want empty", r.SessionID)
	}
}

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	for _, comp := range []Compression{CompressionNone, CompressionGzip} {
		frame := buildErrorResponse(t, comp, 40000, []byte(`{"reason":"bad audio"}`))

		r, err := ParseResponse(frame)
		if err != nil {
			t.Fatalf("compression %v: ParseResponse: %v", comp, err)
		}
		if r.Type != MsgServerError {
			t.Errorf("type = %v", r.Type)
		}
		if r.ErrorCode != 40000 {
			t.Errorf("code = %d, want 40000", r.ErrorCode)
		}
		if !bytes.Equal(r.Payload, []byte(`{"reason":"bad audio"}`)) {
			t.Errorf("payload = %q", r.Payload)
		}

		var srvErr *ServerError
		if !errors.As(r.Err(), &srvErr) || srvErr.Code != 40000 {
			t.Errorf("Err() = %v, want ServerError 40000", r.Err())
		}
	}
}

func TestParseNegativeSessionIDLength(t *testing.T) {
	t.Parallel()

	h := Header{Type: MsgServerFullResponse, Serialization: SerializationNone, Compression: CompressionNone}
	head, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame := append([]byte{}, head...)
	frame = binary.BigEndian.AppendUint32(frame, 0xFFFFFFFF) // -1 signed

	_, err = ParseResponse(frame)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestParseTruncatedSections(t *testing.T) {
	t.Parallel()

	h := Header{
		Type:          MsgServerFullResponse,
		Flags:         FlagWithEvent,
		Serialization: SerializationNone,
		Compression:   CompressionNone,
	}
	full := buildFullResponse(t, h, 0, EventTTSAudio, "sess-1", []byte("pcmpcm"))

	// Every prefix shorter than the full frame must error, never panic.
	for cut := 0; cut < len(full); cut++ {
		if _, err := ParseResponse(full[:cut]); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("cut %d: err = %v, want ErrMalformedFrame", cut, err)
		}
	}
}

func TestParseTwoByteBuffer(t *testing.T) {
	t.Parallel()

	if _, err := ParseResponse([]byte{0x11, 0x94}); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestParseUnknownMessageTypeHeaderOnly(t *testing.T) {
	t.Parallel()

	h := Header{Type: MessageType(0b0110), Serialization: SerializationNone, Compression: CompressionNone}
	head, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r, err := ParseResponse(append(head, 0xAA, 0xBB))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if r.Type != MessageType(0b0110) {
		t.Errorf("type = %v", r.Type)
	}
	if r.Payload != nil || r.HasEvent || r.HasSequence {
		t.Errorf("unknown type populated payload fields: %+v", r)
	}
}

func TestParseCorruptPayloadIsDecodeError(t *testing.T) {
	t.Parallel()

	h := Header{
		Type:          MsgServerFullResponse,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
	}
	head, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame := append([]byte{}, head...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(EventChatText))
	frame = binary.BigEndian.AppendUint32(frame, 0) // empty session id
	garbage := []byte{0x00, 0x01, 0x02, 0x03}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(garbage)))
	frame = append(frame, garbage...)

	_, err = ParseResponse(frame)
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Errorf("err = %v, want *DecodeError", err)
	}
	if errors.Is(err, ErrMalformedFrame) {
		t.Error("decode failure must not be classified as malformed frame")
	}
}
