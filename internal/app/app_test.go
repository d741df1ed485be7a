package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/app"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/pkg/dialog"
)

// fakeConv is an in-memory Conversation double. Run blocks until Finish
// unless autoEnd is set, mirroring how a live session blocks until the
// server or the caller ends it.
type fakeConv struct {
	dialogID string
	runErr   error
	autoEnd  bool

	text       chan dialog.TextMessage
	audio      chan dialog.AudioChunk
	interrupts chan struct{}

	done       chan struct{}
	started    chan struct{}
	finishOnce sync.Once
	startOnce  sync.Once
	sinkOnce   sync.Once

	mu       sync.Mutex
	startCfg dialog.SessionConfig
	sent     [][]byte
	greeting string
}

func newFakeConv() *fakeConv {
	return &fakeConv{
		text:       make(chan dialog.TextMessage, 8),
		audio:      make(chan dialog.AudioChunk, 8),
		interrupts: make(chan struct{}, 1),
		done:       make(chan struct{}),
		started:    make(chan struct{}),
	}
}

func (f *fakeConv) Start(_ context.Context, cfg dialog.SessionConfig) error {
	f.mu.Lock()
	f.startCfg = cfg
	f.mu.Unlock()
	f.startOnce.Do(func() { close(f.started) })
	return nil
}

func (f *fakeConv) Run(_ context.Context) error {
	if !f.autoEnd {
		<-f.done
	}
	f.closeSinks()
	return f.runErr
}

func (f *fakeConv) SendAudio(chunk []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, chunk)
	f.mu.Unlock()
	return nil
}

func (f *fakeConv) SayHello(_ context.Context, greeting string) error {
	f.mu.Lock()
	f.greeting = greeting
	f.mu.Unlock()
	return nil
}

func (f *fakeConv) Finish(context.Context) error {
	f.finishOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConv) Audio() <-chan dialog.AudioChunk { return f.audio }
func (f *fakeConv) Text() <-chan dialog.TextMessage { return f.text }
func (f *fakeConv) Interrupts() <-chan struct{}     { return f.interrupts }
func (f *fakeConv) DialogID() string                { return f.dialogID }

func (f *fakeConv) closeSinks() {
	f.sinkOnce.Do(func() {
		close(f.text)
		close(f.audio)
		close(f.interrupts)
	})
}

func (f *fakeConv) sessionStartConfig() dialog.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCfg
}

func testAppConfig() *config.Config {
	return &config.Config{
		Session: config.SessionSettings{BotName: "Assistant", Greeting: "hello"},
		Reconnect: config.ReconnectConfig{
			MaxAttempts:    3,
			InitialBackoff: config.Duration(time.Millisecond),
			MaxBackoff:     config.Duration(2 * time.Millisecond),
		},
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func TestRunEndsWhenInputCloses(t *testing.T) {
	t.Parallel()

	conv := newFakeConv()
	a := app.New(testAppConfig(), app.Handlers{}, app.WithDialer(
		func(context.Context, dialog.Config) (app.Conversation, error) { return conv, nil },
	))

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(context.Background()) }()

	<-conv.started
	a.Input() <- make([]byte, 320)
	a.CloseInput()

	if err := waitErr(t, runErr); err != nil {
		t.Fatalf("Run: %v", err)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.sent) != 1 || len(conv.sent[0]) != 320 {
		t.Errorf("forwarded audio = %d chunks", len(conv.sent))
	}
	if conv.greeting != "hello" {
		t.Errorf("greeting = %q, want hello", conv.greeting)
	}
}

func TestDialogIDCarriedAcrossSessions(t *testing.T) {
	t.Parallel()

	first := newFakeConv()
	first.dialogID = "d-1"
	first.autoEnd = true
	second := newFakeConv()

	var dials int
	dialer := func(context.Context, dialog.Config) (app.Conversation, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}

	a := app.New(testAppConfig(), app.Handlers{}, app.WithDialer(dialer))
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(context.Background()) }()

	<-second.started
	cfg := second.sessionStartConfig()
	if cfg.Dialog == nil || cfg.Dialog.DialogID != "d-1" {
		t.Errorf("second session dialog config = %+v, want dialog_id d-1", cfg.Dialog)
	}
	if got := a.DialogID(); got != "d-1" {
		t.Errorf("DialogID = %q, want d-1", got)
	}

	a.CloseInput()
	if err := waitErr(t, runErr); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("connection refused")
	var dials int
	a := app.New(testAppConfig(), app.Handlers{}, app.WithDialer(
		func(context.Context, dialog.Config) (app.Conversation, error) {
			dials++
			return nil, dialErr
		},
	))

	err := a.Run(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("Run err = %v, want wrapped dial error", err)
	}
	if !strings.Contains(err.Error(), "giving up") {
		t.Errorf("err = %v, want giving-up message", err)
	}
	if dials != 4 {
		t.Errorf("dials = %d, want initial try plus 3 retries", dials)
	}
}

func TestHandlersReceiveStreams(t *testing.T) {
	t.Parallel()

	conv := newFakeConv()
	conv.text <- dialog.TextMessage{Source: dialog.TextSourceChat, Text: "hi"}
	conv.audio <- dialog.AudioChunk{Data: []byte{1, 2}}
	conv.interrupts <- struct{}{}

	var (
		mu         sync.Mutex
		texts      []string
		audioBytes int
		interrupts int
	)
	h := app.Handlers{
		OnText: func(m dialog.TextMessage) {
			mu.Lock()
			texts = append(texts, m.Text)
			mu.Unlock()
		},
		OnAudio: func(c dialog.AudioChunk) {
			mu.Lock()
			audioBytes += len(c.Data)
			mu.Unlock()
		},
		OnInterrupt: func() {
			mu.Lock()
			interrupts++
			mu.Unlock()
		},
	}

	a := app.New(testAppConfig(), h, app.WithDialer(
		func(context.Context, dialog.Config) (app.Conversation, error) { return conv, nil },
	))

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(context.Background()) }()

	<-conv.started
	a.CloseInput()
	if err := waitErr(t, runErr); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != "hi" {
		t.Errorf("texts = %v", texts)
	}
	if audioBytes != 2 {
		t.Errorf("audio bytes = %d, want 2", audioBytes)
	}
	if interrupts != 1 {
		t.Errorf("interrupts = %d, want 1", interrupts)
	}
}
