// Package app wires the dialogue session into a running application.
//
// The App owns the session lifecycle: it dials the service, keeps a
// conversation alive across reconnects, pumps caller audio in, and fans the
// session's text, audio, and interrupt streams out to caller-supplied
// handlers.
//
// For testing, inject a fake dialer via [WithDialer].
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/pkg/dialog"
)

// Conversation is the slice of [dialog.Session] the app drives. Extracted so
// tests can substitute a double.
type Conversation interface {
	Start(ctx context.Context, cfg dialog.SessionConfig) error
	Run(ctx context.Context) error
	SendAudio(chunk []byte) error
	SayHello(ctx context.Context, greeting string) error
	Finish(ctx context.Context) error
	Audio() <-chan dialog.AudioChunk
	Text() <-chan dialog.TextMessage
	Interrupts() <-chan struct{}
	DialogID() string
}

// DialFunc opens one conversation with the service.
type DialFunc func(ctx context.Context, cfg dialog.Config) (Conversation, error)

// Handlers receives the session's output streams. Nil fields are skipped.
// Handlers are called from the app's drain goroutines and must not block for
// long; a stalled handler stalls its stream.
type Handlers struct {
	OnText      func(dialog.TextMessage)
	OnAudio     func(dialog.AudioChunk)
	OnInterrupt func()
}

// App keeps one conversation with the dialogue service alive, reconnecting
// with exponential backoff when the transport fails.
type App struct {
	cfg      *config.Config
	handlers Handlers
	dial     DialFunc

	input chan []byte

	// dialogID carries the conversation across reconnects. Guarded by mu.
	mu       sync.Mutex
	dialogID string

	inputClosed atomic.Bool
	closeOnce   sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDialer injects a dialer instead of the real WebSocket dial.
func WithDialer(d DialFunc) Option {
	return func(a *App) { a.dial = d }
}

// New creates an App. The config must have passed [config.Validate].
func New(cfg *config.Config, h Handlers, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		handlers: h,
		input:    make(chan []byte, 64),
		dial: func(ctx context.Context, dc dialog.Config) (Conversation, error) {
			return dialog.Dial(ctx, dc)
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Input is the caller's microphone feed. Closing it ends the conversation
// gracefully. Use [App.CloseInput] rather than closing the channel directly.
func (a *App) Input() chan<- []byte { return a.input }

// CloseInput signals end of caller audio. Safe to call more than once.
func (a *App) CloseInput() {
	a.closeOnce.Do(func() {
		a.inputClosed.Store(true)
		close(a.input)
	})
}

// DialogID returns the id of the conversation being carried across sessions.
// Empty until the first session starts.
func (a *App) DialogID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dialogID
}

// Run drives the conversation until the input feed is closed, the context is
// cancelled, or the reconnect budget is exhausted. Each successfully started
// session resets the failure streak.
func (a *App) Run(ctx context.Context) error {
	backoff := a.cfg.Reconnect.InitialBackoff.Std()
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := a.cfg.Reconnect.MaxBackoff.Std()
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	delay := backoff
	failures := 0

	for {
		started, err := a.runSession(ctx)
		if a.inputClosed.Load() || ctx.Err() != nil {
			if err != nil && ctx.Err() == nil {
				slog.Warn("session ended with error during shutdown", "err", err)
			}
			return ctx.Err()
		}
		if started {
			failures = 0
			delay = backoff
		}
		if err == nil {
			// The server finished the session cleanly; reopen it on the
			// same dialog so the conversation continues.
			slog.Info("session finished, reconnecting", "dialog_id", a.DialogID())
			continue
		}

		failures++
		if failures > a.cfg.Reconnect.MaxAttempts {
			return fmt.Errorf("app: giving up after %d consecutive failures: %w", failures, err)
		}
		slog.Warn("session failed, retrying",
			"err", err,
			"attempt", failures,
			"max_attempts", a.cfg.Reconnect.MaxAttempts,
			"delay", delay,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, maxBackoff)
	}
}

// runSession opens and drives one session. The started return reports whether
// the session reached the active state, regardless of how it ended.
func (a *App) runSession(ctx context.Context) (started bool, err error) {
	sess, err := a.dial(ctx, a.dialConfig())
	if err != nil {
		return false, err
	}
	defer sess.Finish(context.WithoutCancel(ctx))

	if err := sess.Start(ctx, a.sessionConfig()); err != nil {
		return false, err
	}
	if id := sess.DialogID(); id != "" {
		a.mu.Lock()
		a.dialogID = id
		a.mu.Unlock()
	}

	if g := a.cfg.Session.Greeting; g != "" {
		if err := sess.SayHello(ctx, g); err != nil {
			slog.Warn("greeting failed", "err", err)
		}
	}

	// The pump must not outlive the session: it watches a per-session
	// context cancelled as soon as Run returns.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); a.pumpInput(sctx, sess) }()
	go func() { defer wg.Done(); a.drainText(sess) }()
	go func() { defer wg.Done(); a.drainAudio(sess) }()
	go func() { defer wg.Done(); a.drainInterrupts(sess) }()

	err = sess.Run(ctx)
	cancel()
	wg.Wait()
	return true, err
}

// pumpInput forwards caller audio into the session until the feed closes or
// the session goes away.
func (a *App) pumpInput(ctx context.Context, sess Conversation) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-a.input:
			if !ok {
				if err := sess.Finish(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("finish after input close failed", "err", err)
				}
				return
			}
			if err := sess.SendAudio(chunk); err != nil {
				slog.Debug("audio send rejected", "err", err)
				return
			}
		}
	}
}

func (a *App) drainText(sess Conversation) {
	for msg := range sess.Text() {
		if a.handlers.OnText != nil {
			a.handlers.OnText(msg)
		}
	}
}

func (a *App) drainAudio(sess Conversation) {
	for chunk := range sess.Audio() {
		if a.handlers.OnAudio != nil {
			a.handlers.OnAudio(chunk)
		}
	}
}

func (a *App) drainInterrupts(sess Conversation) {
	for range sess.Interrupts() {
		if a.handlers.OnInterrupt != nil {
			a.handlers.OnInterrupt()
		}
	}
}

func (a *App) dialConfig() dialog.Config {
	c := a.cfg.Connection
	return dialog.Config{
		URL:               c.URL,
		AppID:             c.AppID,
		AccessKey:         c.AccessKey,
		ResourceID:        c.ResourceID,
		AppKey:            c.AppKey,
		HandshakeTimeout:  c.HandshakeTimeout.Std(),
		AckTimeout:        c.AckTimeout.Std(),
		KeepaliveInterval: c.KeepaliveInterval.Std(),
		OutputSampleRate:  a.cfg.Audio.OutputSampleRate,
	}
}

// sessionConfig builds the start-session payload, preferring the dialog id
// captured from an earlier session over the configured one.
func (a *App) sessionConfig() dialog.SessionConfig {
	s := a.cfg.Session

	dialogID := s.DialogID
	a.mu.Lock()
	if a.dialogID != "" {
		dialogID = a.dialogID
	}
	a.mu.Unlock()

	cfg := dialog.SessionConfig{
		Dialog: &dialog.DialogConfig{
			BotName:       s.BotName,
			SystemRole:    s.SystemRole,
			SpeakingStyle: s.SpeakingStyle,
			DialogID:      dialogID,
		},
	}
	if s.Speaker != "" || s.OutputFormat != "" {
		tts := &dialog.TTSConfig{Speaker: s.Speaker}
		if s.OutputFormat != "" {
			tts.AudioConfig = &dialog.AudioConfig{
				Channel:    1,
				Format:     string(s.OutputFormat),
				SampleRate: a.cfg.Audio.OutputSampleRate,
			}
		}
		cfg.TTS = tts
	}
	return cfg
}
