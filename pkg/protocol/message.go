package protocol

import (
	"encoding/binary"
	"sync/atomic"
)

// KeepaliveChunkSize is the byte count of the silence payload sent to hold
// an idle connection open.
const KeepaliveChunkSize = 320

// BuilderOption is a functional option for configuring a [Builder].
type BuilderOption func(*Builder)

// WithSerialization overrides the serialization used for control messages.
// Audio chunks always use [SerializationNone].
func WithSerialization(ser Serialization) BuilderOption {
	return func(b *Builder) { b.serialization = ser }
}

// WithCompression overrides the payload compression for all messages.
func WithCompression(comp Compression) BuilderOption {
	return func(b *Builder) { b.compression = comp }
}

// Builder composes complete wire frames, one method per logical client
// operation. Safe for concurrent use; the advisory sequence counter is
// atomic and strictly increases across audio chunks.
type Builder struct {
	serialization Serialization
	compression   Compression
	seq           atomic.Uint32
}

// NewBuilder returns a Builder with the service defaults: JSON
// serialization and gzip compression.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		serialization: SerializationJSON,
		compression:   CompressionGzip,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type contentPayload struct {
	Content string `json:"content"`
}

type ttsTextPayload struct {
	Start   bool   `json:"start"`
	End     bool   `json:"end"`
	Content string `json:"content"`
}

// StartConnection announces the connection. No session-id section: the
// connection is not yet scoped to a session.
func (b *Builder) StartConnection() ([]byte, error) {
	return b.control(EventStartConnection, "", false, map[string]any{})
}

// FinishConnection closes the connection scope.
func (b *Builder) FinishConnection() ([]byte, error) {
	return b.control(EventFinishConnection, "", false, map[string]any{})
}

// StartSession opens a dialogue session. cfg is shipped verbatim as the
// session configuration; its shape is owned by the remote ASR/TTS/dialog
// providers, not by this codec.
func (b *Builder) StartSession(sessionID string, cfg any) ([]byte, error) {
	return b.control(EventStartSession, sessionID, true, cfg)
}

// FinishSession closes the session scope.
func (b *Builder) FinishSession(sessionID string) ([]byte, error) {
	return b.control(EventFinishSession, sessionID, true, map[string]any{})
}

// Hello asks the service to speak a greeting.
func (b *Builder) Hello(sessionID, content string) ([]byte, error) {
	return b.control(EventSayHello, sessionID, true, contentPayload{Content: content})
}

// ChatTextQuery submits a text utterance in place of audio.
func (b *Builder) ChatTextQuery(sessionID, text string) ([]byte, error) {
	return b.control(EventChatTextQuery, sessionID, true, contentPayload{Content: text})
}

// ChatTTSText streams caller-authored text for the service to synthesize.
// Callers must not send this while the user is speaking (barge-in rule);
// that precondition lives above the codec.
func (b *Builder) ChatTTSText(sessionID string, start, end bool, content string) ([]byte, error) {
	return b.control(EventChatTTSText, sessionID, true, ttsTextPayload{
		Start:   start,
		End:     end,
		Content: content,
	})
}

// AudioChunk wraps raw PCM bytes in an audio-only frame: serialization
// none, compressed payload, session-id section present. The reserved byte
// carries the low 8 bits of the advisory sequence.
func (b *Builder) AudioChunk(sessionID string, pcm []byte) ([]byte, error) {
	body, err := MarshalPayload(pcm, SerializationNone, b.compression)
	if err != nil {
		return nil, err
	}
	h := Header{
		Type:          MsgClientAudioOnly,
		Flags:         FlagWithEvent,
		Serialization: SerializationNone,
		Compression:   b.compression,
		Reserved:      byte(b.seq.Add(1)),
	}
	return assemble(h, EventAudioInput, sessionID, true, body)
}

// Keepalive is an [Builder.AudioChunk] of exactly [KeepaliveChunkSize] zero
// bytes. Sent whenever idle time exceeds the keepalive interval so the
// remote peer does not time the socket out.
func (b *Builder) Keepalive(sessionID string) ([]byte, error) {
	return b.AudioChunk(sessionID, make([]byte, KeepaliveChunkSize))
}

// Sequence returns the advisory sequence value of the last audio chunk.
func (b *Builder) Sequence() uint32 {
	return b.seq.Load()
}

func (b *Builder) control(event Event, sessionID string, withSession bool, payload any) ([]byte, error) {
	body, err := MarshalPayload(payload, b.serialization, b.compression)
	if err != nil {
		return nil, err
	}
	h := Header{
		Type:          MsgClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: b.serialization,
		Compression:   b.compression,
	}
	return assemble(h, event, sessionID, withSession, body)
}

// assemble concatenates header, event code, optional session-id section,
// and the length-prefixed body into one frame.
func assemble(h Header, event Event, sessionID string, withSession bool, body []byte) ([]byte, error) {
	head, err := h.Encode()
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(head)+12+len(sessionID)+len(body))
	frame = append(frame, head...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(event))
	if withSession {
		frame = binary.BigEndian.AppendUint32(frame, uint32(len(sessionID)))
		frame = append(frame, sessionID...)
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	frame = append(frame, body...)
	return frame, nil
}
