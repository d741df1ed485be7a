// Package config provides the configuration schema and loader for the
// voxwire dialogue client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from YAML strings like
// "30s" or "1m30s", as well as plain nanosecond integers.
type Duration time.Duration

// Std returns the value as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioFormat names a synthesized-audio container the service can emit.
type AudioFormat string

const (
	FormatPCM     AudioFormat = "pcm"
	FormatOggOpus AudioFormat = "ogg_opus"
	FormatPCMS16  AudioFormat = "pcm_s16le"
)

// IsValid reports whether f is a recognised audio format.
func (f AudioFormat) IsValid() bool {
	switch f {
	case FormatPCM, FormatOggOpus, FormatPCMS16:
		return true
	}
	return false
}

// Config is the root configuration structure for voxwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Audio      AudioSettings    `yaml:"audio"`
	Session    SessionSettings  `yaml:"session"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
}

// ServerConfig holds logging and observability settings for the client process.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus scrape endpoint listens
	// on (e.g., ":9102"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ConnectionConfig holds the service endpoint and the credential headers
// presented during the WebSocket handshake.
type ConnectionConfig struct {
	// URL is the WebSocket endpoint of the dialogue service.
	URL string `yaml:"url"`

	// AppID identifies the calling application.
	AppID string `yaml:"app_id"`

	// AccessKey authenticates the application.
	AccessKey string `yaml:"access_key"`

	// ResourceID names the service resource being consumed
	// (e.g., "volc.speech.dialog").
	ResourceID string `yaml:"resource_id"`

	// AppKey is the service-assigned application key.
	AppKey string `yaml:"app_key"`

	// HandshakeTimeout bounds the WebSocket dial. Zero uses the default.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`

	// AckTimeout bounds the wait for connection and session acks.
	AckTimeout Duration `yaml:"ack_timeout"`

	// KeepaliveInterval is the idle gap after which a silence chunk is sent.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`
}

// AudioSettings describes the microphone capture and playback formats.
type AudioSettings struct {
	// InputSampleRate is the capture rate in Hz. The service expects 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the playback rate in Hz for synthesized audio.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// ChunkMillis is the duration of one captured audio chunk in
	// milliseconds. Larger chunks mean fewer frames and more latency.
	ChunkMillis int `yaml:"chunk_millis"`
}

// SessionSettings shapes the conversational persona sent at session start.
type SessionSettings struct {
	// Speaker selects the synthesis voice.
	Speaker string `yaml:"speaker"`

	// BotName is the assistant's display name.
	BotName string `yaml:"bot_name"`

	// SystemRole is a free-text persona description.
	SystemRole string `yaml:"system_role"`

	// SpeakingStyle tunes delivery (e.g., "cheerful, fast").
	SpeakingStyle string `yaml:"speaking_style"`

	// Greeting, when set, is spoken by the assistant as soon as the session
	// becomes active.
	Greeting string `yaml:"greeting"`

	// OutputFormat selects the synthesized audio container.
	OutputFormat AudioFormat `yaml:"output_format"`

	// DialogID resumes an earlier conversation when set.
	DialogID string `yaml:"dialog_id"`
}

// ReconnectConfig bounds the automatic reconnect loop.
type ReconnectConfig struct {
	// MaxAttempts caps consecutive failed reconnects before giving up.
	// Zero means no reconnection.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry. Doubles on each
	// consecutive failure up to MaxBackoff.
	InitialBackoff Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff Duration `yaml:"max_backoff"`
}
