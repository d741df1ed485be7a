package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Connection.URL == "" {
		errs = append(errs, errors.New("connection.url is required"))
	} else if !strings.HasPrefix(cfg.Connection.URL, "ws://") && !strings.HasPrefix(cfg.Connection.URL, "wss://") {
		errs = append(errs, fmt.Errorf("connection.url %q must use the ws:// or wss:// scheme", cfg.Connection.URL))
	}
	for _, cred := range []struct{ key, val string }{
		{"connection.app_id", cfg.Connection.AppID},
		{"connection.access_key", cfg.Connection.AccessKey},
		{"connection.resource_id", cfg.Connection.ResourceID},
		{"connection.app_key", cfg.Connection.AppKey},
	} {
		if cred.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", cred.key))
		}
	}
	for _, d := range []struct {
		key string
		val Duration
	}{
		{"connection.handshake_timeout", cfg.Connection.HandshakeTimeout},
		{"connection.ack_timeout", cfg.Connection.AckTimeout},
		{"connection.keepalive_interval", cfg.Connection.KeepaliveInterval},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.key))
		}
	}

	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must not be negative", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must not be negative", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.ChunkMillis < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_millis %d must not be negative", cfg.Audio.ChunkMillis))
	}

	if cfg.Session.OutputFormat != "" && !cfg.Session.OutputFormat.IsValid() {
		errs = append(errs, fmt.Errorf("session.output_format %q is invalid; valid values: pcm, ogg_opus, pcm_s16le", cfg.Session.OutputFormat))
	}

	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}
	if cfg.Reconnect.InitialBackoff < 0 || cfg.Reconnect.MaxBackoff < 0 {
		errs = append(errs, errors.New("reconnect backoff durations must not be negative"))
	}
	if cfg.Reconnect.MaxBackoff > 0 && cfg.Reconnect.InitialBackoff > cfg.Reconnect.MaxBackoff {
		errs = append(errs, fmt.Errorf("reconnect.initial_backoff %s exceeds reconnect.max_backoff %s", cfg.Reconnect.InitialBackoff, cfg.Reconnect.MaxBackoff))
	}

	return errors.Join(errs...)
}
