package dialog

import "time"

// Config carries everything needed to reach the dialogue service. The five
// header credentials are opaque strings; the codec ships them verbatim.
type Config struct {
	// URL is the WebSocket endpoint of the dialogue service.
	URL string

	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	// HandshakeTimeout bounds the WebSocket dial. Default 10s.
	HandshakeTimeout time.Duration

	// AckTimeout bounds the wait for connection and session acks. Default 10s.
	AckTimeout time.Duration

	// KeepaliveInterval is the idle gap after which a silence chunk is sent
	// to hold the connection open. Default 30s.
	KeepaliveInterval time.Duration

	// AudioBuffer is the capacity of the outbound audio queue. Default 64.
	AudioBuffer int

	// OutputSampleRate is the sample rate stamped on inbound TTS audio.
	// The wire carries 24 kHz mono 16-bit unless the session config asked
	// for something else. Default 24000.
	OutputSampleRate int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.AudioBuffer <= 0 {
		c.AudioBuffer = 64
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = 24000
	}
	return c
}

// SessionConfig is the start-session payload. Its shape is owned by the
// remote ASR/TTS/dialog providers; the codec ships it verbatim, so every
// sub-object is optional.
type SessionConfig struct {
	ASR    *ASRConfig    `json:"asr,omitempty"`
	TTS    *TTSConfig    `json:"tts,omitempty"`
	Dialog *DialogConfig `json:"dialog,omitempty"`
}

// ASRConfig tunes the recognizer. Provider-defined keys go in Extra.
type ASRConfig struct {
	Extra map[string]any `json:"extra,omitempty"`
}

// TTSConfig selects the synthesis voice and output audio format.
type TTSConfig struct {
	Speaker     string       `json:"speaker,omitempty"`
	AudioConfig *AudioConfig `json:"audio_config,omitempty"`
}

// AudioConfig describes the synthesized audio stream.
type AudioConfig struct {
	Channel    int    `json:"channel"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// DialogConfig shapes the conversational persona. DialogID may carry the id
// of an earlier conversation to resume it; the server assigns a fresh one
// otherwise (surfaced via [Session.DialogID]).
type DialogConfig struct {
	BotName       string         `json:"bot_name,omitempty"`
	SystemRole    string         `json:"system_role,omitempty"`
	SpeakingStyle string         `json:"speaking_style,omitempty"`
	DialogID      string         `json:"dialog_id,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// TextSource labels where a text message originated.
type TextSource string

const (
	// TextSourceASR marks recognized user speech.
	TextSourceASR TextSource = "asr_result"

	// TextSourceChat marks assistant chat text.
	TextSourceChat TextSource = "chat_text"
)

// TextMessage is one unit of text pushed to the text sink.
type TextMessage struct {
	Source TextSource
	Text   string

	// Confidence is set for ASR results only.
	Confidence float64
}

// AudioChunk is one unit of synthesized audio from the service, tagged with
// the format metadata the playback collaborator needs.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	BitDepth   int
}

// State identifies where the session is in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateSessionStarting
	StateSessionActive
	StateSessionClosing
	StateConnectionClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionStarting:
		return "session_starting"
	case StateSessionActive:
		return "session_active"
	case StateSessionClosing:
		return "session_closing"
	case StateConnectionClosing:
		return "connection_closing"
	}
	return "unknown"
}
