// Package dialog drives a realtime voice conversation with the dialogue
// service: one WebSocket connection hosting sequential sessions, each with
// concurrent audio upstream and event downstream.
//
// The lifecycle is [Dial] → [Session.Start] → [Session.Run] (blocking, owns
// the send and receive loops) → [Session.Finish]. Synthesized audio, text
// and barge-in signals arrive on the channels returned by [Session.Audio],
// [Session.Text] and [Session.Interrupts]; Run closes them on exit.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/protocol"
)

var (
	// ErrSessionClosed is returned by send operations after shutdown began.
	ErrSessionClosed = errors.New("dialog: session closed")

	// ErrUserSpeaking rejects ChatTTSText while barge-in is active.
	ErrUserSpeaking = errors.New("dialog: user is speaking")

	// ErrNotActive rejects operations issued from the wrong lifecycle state.
	ErrNotActive = errors.New("dialog: session not active")
)

// maxFrameSize bounds a single inbound WebSocket message; TTS audio frames
// exceed the library default read limit.
const maxFrameSize = 1 << 24

// Session is one connection to the dialogue service. Create it with [Dial];
// all methods are safe for concurrent use.
type Session struct {
	cfg     Config
	conn    *websocket.Conn
	builder *protocol.Builder
	metrics *observe.Metrics

	// id scopes this session on the wire; a new Dial gets a new id while
	// conversational continuity travels in DialogConfig.DialogID.
	id string

	state     atomic.Int32
	lastWrite atomic.Int64 // unix nanos of the last socket write

	// writeMu serializes all socket writes: the send loop, keepalives and
	// control-path callers share one ordered stream.
	writeMu sync.Mutex

	audioIn    chan []byte
	textOut    chan TextMessage
	audioOut   chan AudioChunk
	interrupts chan struct{}

	// closing is closed when shutdown begins, either by a terminal server
	// event or by Finish.
	closing     chan struct{}
	closingOnce sync.Once
	outputsOnce sync.Once
	finishOnce  sync.Once

	handlers map[protocol.Event]handleFunc

	mu           sync.Mutex
	dialogID     string
	errVal       error
	userSpeaking bool
	chatBuf      []byte
	chatActive   bool
	sinkClosed   bool

	outFormat AudioChunk
}

// Dial opens the transport with the configured credentials, announces the
// connection, and waits for the server ack. The returned session is
// connected; call [Session.Start] to begin a dialogue.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:        cfg,
		builder:    protocol.NewBuilder(),
		metrics:    observe.DefaultMetrics(),
		id:         uuid.NewString(),
		audioIn:    make(chan []byte, cfg.AudioBuffer),
		textOut:    make(chan TextMessage, 16),
		audioOut:   make(chan AudioChunk, 64),
		interrupts: make(chan struct{}, 1),
		closing:    make(chan struct{}),
		outFormat:  AudioChunk{SampleRate: cfg.OutputSampleRate, Channels: 1, BitDepth: 16},
	}
	s.handlers = s.dispatchTable()
	s.state.Store(int32(StateConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"X-Api-App-ID":      []string{cfg.AppID},
			"X-Api-Access-Key":  []string{cfg.AccessKey},
			"X-Api-Resource-Id": []string{cfg.ResourceID},
			"X-Api-App-Key":     []string{cfg.AppKey},
			"X-Api-Connect-Id":  []string{uuid.NewString()},
		},
	})
	if err != nil {
		s.state.Store(int32(StateIdle))
		return nil, fmt.Errorf("dialog: dial %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)
	s.conn = conn

	frame, err := s.builder.StartConnection()
	if err != nil {
		s.abort()
		return nil, err
	}
	if err := s.writeFrame(ctx, "control", frame); err != nil {
		s.abort()
		return nil, err
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("dialog: connection ack: %w", err)
	}
	if err := resp.Err(); err != nil {
		s.abort()
		return nil, err
	}

	s.state.Store(int32(StateConnected))
	slog.Debug("connection established", "session_id", s.id, "ack_event", resp.Event.String())
	return s, nil
}

// Start opens a dialogue session on the connection and waits for the
// session-started event, capturing the server-assigned dialog id.
func (s *Session) Start(ctx context.Context, cfg SessionConfig) error {
	if s.State() != StateConnected {
		return fmt.Errorf("dialog: start from state %s: %w", s.State(), ErrNotActive)
	}
	s.state.Store(int32(StateSessionStarting))

	frame, err := s.builder.StartSession(s.id, cfg)
	if err != nil {
		return err
	}
	if err := s.writeFrame(ctx, "control", frame); err != nil {
		s.fail(err)
		return err
	}

	resp, err := s.readResponse(ctx)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("dialog: session ack: %w", err)
	}
	if err := resp.Err(); err != nil {
		s.fail(err)
		return err
	}
	if resp.HasEvent && resp.Event == protocol.EventSessionStarted {
		s.captureDialogID(resp.Payload)
	}

	s.state.Store(int32(StateSessionActive))
	slog.Info("session started", "session_id", s.id, "dialog_id", s.DialogID())
	return nil
}

// Run drives the streaming exchange until ctx is cancelled, the server ends
// the session, or the transport fails. It owns the output channels and
// closes them on exit; a server-reported error is returned and also
// available via [Session.Err].
func (s *Session) Run(ctx context.Context) error {
	if s.State() != StateSessionActive {
		return fmt.Errorf("dialog: run from state %s: %w", s.State(), ErrNotActive)
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)
	defer s.closeOutputs()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sendLoop(gctx) })
	g.Go(func() error { return s.receiveLoop(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.fail(err)
		return err
	}
	return nil
}

// sendLoop drains the outbound audio queue and injects silence keepalives
// when the stream idles past the configured interval.
func (s *Session) sendLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closing:
			return nil
		case chunk := <-s.audioIn:
			frame, err := s.builder.AudioChunk(s.id, chunk)
			if err != nil {
				return err
			}
			if err := s.writeFrame(ctx, "audio", frame); err != nil {
				return err
			}
			s.metrics.AudioBytesOut.Add(ctx, int64(len(chunk)))
		case now := <-ticker.C:
			if !keepaliveDue(s.lastWriteTime(), now, s.cfg.KeepaliveInterval) {
				continue
			}
			frame, err := s.builder.Keepalive(s.id)
			if err != nil {
				return err
			}
			if err := s.writeFrame(ctx, "keepalive", frame); err != nil {
				return err
			}
			slog.Debug("keepalive sent", "session_id", s.id)
		}
	}
}

// receiveLoop reads frames, parses them, and dispatches events. Malformed
// or undecodable frames are dropped; frames are independent, so the stream
// lives on. Returns nil on a terminal event, the server error on an error
// response, and a transport error otherwise.
func (s *Session) receiveLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("dialog: read: %w", err)
		}

		resp, err := protocol.ParseResponse(data)
		if err != nil {
			var decErr *protocol.DecodeError
			switch {
			case errors.Is(err, protocol.ErrMalformedFrame):
				slog.Warn("malformed frame dropped", "session_id", s.id, "err", err)
			case errors.As(err, &decErr):
				slog.Warn("payload decode failed, event dropped", "session_id", s.id, "err", err)
			default:
				slog.Warn("unreadable frame dropped", "session_id", s.id, "err", err)
			}
			s.metrics.DecodeFailures.Add(ctx, 1)
			continue
		}
		s.metrics.FramesReceived.Add(ctx, 1)

		if err := resp.Err(); err != nil {
			s.fail(err)
			return err
		}
		if s.dispatch(ctx, resp) {
			return nil
		}
	}
}

// SendAudio queues one raw PCM chunk for the send loop. Blocks while the
// queue is full; unblocks with [ErrSessionClosed] once shutdown begins.
func (s *Session) SendAudio(chunk []byte) error {
	if s.State() != StateSessionActive {
		return ErrNotActive
	}
	select {
	case s.audioIn <- chunk:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	}
}

// SendText submits a text utterance in place of audio.
func (s *Session) SendText(ctx context.Context, text string) error {
	frame, err := s.builder.ChatTextQuery(s.id, text)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, "control", frame)
}

// SayHello asks the service to speak a greeting.
func (s *Session) SayHello(ctx context.Context, greeting string) error {
	frame, err := s.builder.Hello(s.id, greeting)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, "control", frame)
}

// SendTTSText streams caller-authored text for the service to synthesize.
// Returns [ErrUserSpeaking] while barge-in is active: the user's speech has
// priority over scripted output.
func (s *Session) SendTTSText(ctx context.Context, start, end bool, content string) error {
	s.mu.Lock()
	speaking := s.userSpeaking
	s.mu.Unlock()
	if speaking {
		return ErrUserSpeaking
	}

	frame, err := s.builder.ChatTTSText(s.id, start, end, content)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, "control", frame)
}

// Finish performs the orderly shutdown: stop audio intake, finish the
// session, flush pending chat text, finish the connection, close the
// socket. Safe to call whether or not Run has returned; idempotent.
func (s *Session) Finish(ctx context.Context) error {
	var err error
	s.finishOnce.Do(func() { err = s.finish(ctx) })
	return err
}

func (s *Session) finish(ctx context.Context) error {
	s.closeClosing()

	var errs []error
	if st := s.State(); st == StateSessionStarting || st == StateSessionActive || st == StateSessionClosing {
		s.state.Store(int32(StateSessionClosing))
		if frame, err := s.builder.FinishSession(s.id); err == nil {
			if werr := s.writeFrame(ctx, "control", frame); werr != nil {
				errs = append(errs, werr)
			}
		}
		s.flushChat(ctx)
	}

	s.state.Store(int32(StateConnectionClosing))
	if frame, err := s.builder.FinishConnection(); err == nil {
		if werr := s.writeFrame(ctx, "control", frame); werr != nil {
			errs = append(errs, werr)
		}
	}

	s.conn.Close(websocket.StatusNormalClosure, "dialogue finished")
	s.state.Store(int32(StateIdle))
	slog.Info("session finished", "session_id", s.id, "dialog_id", s.DialogID())
	return errors.Join(errs...)
}

// Audio returns the channel carrying synthesized audio from the service.
func (s *Session) Audio() <-chan AudioChunk { return s.audioOut }

// Text returns the channel carrying recognized and assistant text.
func (s *Session) Text() <-chan TextMessage { return s.textOut }

// Interrupts returns the channel signalling user barge-in.
func (s *Session) Interrupts() <-chan struct{} { return s.interrupts }

// DialogID returns the server-assigned conversation id, empty until the
// session-started event arrives. Pass it into the next session's
// [DialogConfig] to keep conversational continuity across reconnects.
func (s *Session) DialogID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogID
}

// ID returns the wire session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Err returns the first error that terminated the session, nil if it ended
// cleanly.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// ── internals ─────────────────────────────────────────────────────────────────

// writeFrame serializes all socket writes and stamps the keepalive clock.
func (s *Session) writeFrame(ctx context.Context, kind string, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("dialog: write: %w", err)
	}
	s.lastWrite.Store(start.UnixNano())
	s.metrics.RecordFrameSent(ctx, kind)
	s.metrics.SendDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// readResponse performs a synchronous ack read with the configured bound.
// Only used before Run starts the receive loop.
func (s *Session) readResponse(ctx context.Context) (*protocol.ServerResponse, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()

	_, data, err := s.conn.Read(readCtx)
	if err != nil {
		return nil, err
	}
	return protocol.ParseResponse(data)
}

func (s *Session) lastWriteTime() time.Time {
	return time.Unix(0, s.lastWrite.Load())
}

// keepaliveDue reports whether the idle gap since the last write has
// reached the keepalive interval.
func keepaliveDue(last, now time.Time, interval time.Duration) bool {
	return now.Sub(last) >= interval
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeClosing() {
	s.closingOnce.Do(func() { close(s.closing) })
}

// closeOutputs marks the sinks closed under the session mutex before
// closing the channels, so a concurrent Finish-path flush either completes
// its send first or sees the flag and skips.
func (s *Session) closeOutputs() {
	s.outputsOnce.Do(func() {
		s.mu.Lock()
		s.sinkClosed = true
		s.mu.Unlock()
		close(s.audioOut)
		close(s.textOut)
		close(s.interrupts)
	})
}

// abort tears the socket down during a failed establishment; no finish
// frames are owed because the connection scope never opened.
func (s *Session) abort() {
	s.conn.Close(websocket.StatusInternalError, "handshake failed")
	s.state.Store(int32(StateIdle))
}
