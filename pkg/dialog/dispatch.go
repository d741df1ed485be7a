package dialog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/voxwire/voxwire/pkg/protocol"
)

// handleFunc processes one parsed response; it returns true when the event
// ends the session.
type handleFunc func(ctx context.Context, resp *protocol.ServerResponse) bool

// dispatchTable builds the fixed event routing table. Built once at session
// creation so every routable event is visible in one place.
func (s *Session) dispatchTable() map[protocol.Event]handleFunc {
	return map[protocol.Event]handleFunc{
		protocol.EventConnectionStarted:  s.onConnectionLifecycle,
		protocol.EventConnectionFinished: s.onConnectionLifecycle,
		protocol.EventSessionStarted:     s.onSessionStarted,
		protocol.EventSessionFinished:    s.onSessionEnded,
		protocol.EventDialogueFinished:   s.onSessionEnded,
		protocol.EventTTSConfigAck:       s.onTTSConfigAck,
		protocol.EventTTSAudio:           s.onTTSAudio,
		protocol.EventASRInfo:            s.onASRInfo,
		protocol.EventASRResult:          s.onASRResult,
		protocol.EventChatText:           s.onChatText,
	}
}

// dispatch routes a parsed response by event code. Unrecognized events and
// event-less responses are logged and skipped; a long-lived stream must
// survive shapes it does not know.
func (s *Session) dispatch(ctx context.Context, resp *protocol.ServerResponse) bool {
	if !resp.HasEvent {
		slog.Warn("response without event code", "session_id", s.id, "type", resp.Type.String())
		return false
	}
	h, ok := s.handlers[resp.Event]
	if !ok {
		slog.Warn("unrecognized event", "session_id", s.id, "event", resp.Event.String())
		return false
	}
	s.metrics.RecordEvent(ctx, resp.Event.String())
	return h(ctx, resp)
}

func (s *Session) onConnectionLifecycle(_ context.Context, resp *protocol.ServerResponse) bool {
	slog.Debug("connection lifecycle event", "session_id", s.id, "event", resp.Event.String())
	return false
}

func (s *Session) onSessionStarted(_ context.Context, resp *protocol.ServerResponse) bool {
	s.captureDialogID(resp.Payload)
	return false
}

func (s *Session) onSessionEnded(ctx context.Context, resp *protocol.ServerResponse) bool {
	slog.Info("session ended by server", "session_id", s.id, "event", resp.Event.String())
	s.flushChat(ctx)
	s.state.Store(int32(StateSessionClosing))
	s.closeClosing()
	return true
}

func (s *Session) onTTSConfigAck(_ context.Context, resp *protocol.ServerResponse) bool {
	slog.Debug("tts configured", "session_id", resp.SessionID)
	return false
}

func (s *Session) onTTSAudio(ctx context.Context, resp *protocol.ServerResponse) bool {
	if len(resp.Payload) == 0 {
		return false
	}
	chunk := s.outFormat
	chunk.Data = resp.Payload
	select {
	case s.audioOut <- chunk:
		s.metrics.AudioBytesIn.Add(ctx, int64(len(resp.Payload)))
	case <-ctx.Done():
	}
	return false
}

// onASRInfo marks barge-in: the user started speaking over the assistant.
// The signal is level-triggered; one pending notification is enough.
func (s *Session) onASRInfo(_ context.Context, _ *protocol.ServerResponse) bool {
	s.mu.Lock()
	s.userSpeaking = true
	s.mu.Unlock()

	select {
	case s.interrupts <- struct{}{}:
	default:
	}
	return false
}

// asrPayload is the recognizer result shape; only the best alternative of
// the first result is surfaced.
type asrPayload struct {
	Results []struct {
		Alternatives []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (s *Session) onASRResult(ctx context.Context, resp *protocol.ServerResponse) bool {
	s.mu.Lock()
	s.userSpeaking = false
	s.mu.Unlock()

	var p asrPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		slog.Warn("asr payload decode failed", "session_id", s.id, "err", err)
		return false
	}
	if len(p.Results) == 0 || len(p.Results[0].Alternatives) == 0 {
		return false
	}
	best := p.Results[0].Alternatives[0]
	if best.Text == "" {
		return false
	}
	s.emitText(ctx, TextMessage{
		Source:     TextSourceASR,
		Text:       best.Text,
		Confidence: best.Confidence,
	})
	return false
}

type chatPayload struct {
	Content string `json:"content"`
}

// onChatText implements the chat-delta accumulation protocol: an empty
// content marks the start of a streamed reply (flushing any reply already
// in flight); non-empty content accumulates while a reply is active and is
// emitted standalone otherwise.
func (s *Session) onChatText(ctx context.Context, resp *protocol.ServerResponse) bool {
	var p chatPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		slog.Warn("chat payload decode failed", "session_id", s.id, "err", err)
		return false
	}

	s.mu.Lock()
	if p.Content == "" {
		var pending string
		if s.chatActive && len(s.chatBuf) > 0 {
			pending = string(s.chatBuf)
		}
		s.chatBuf = s.chatBuf[:0]
		s.chatActive = true
		s.mu.Unlock()

		if pending != "" {
			s.emitText(ctx, TextMessage{Source: TextSourceChat, Text: pending})
		}
		return false
	}
	if s.chatActive {
		s.chatBuf = append(s.chatBuf, p.Content...)
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.emitText(ctx, TextMessage{Source: TextSourceChat, Text: p.Content})
	return false
}

// flushChat emits any accumulated chat text and deactivates the buffer.
// Called on session end and during Finish. The send stays under the
// session mutex and never blocks: it must not deadlock against a consumer
// that already went away during shutdown.
func (s *Session) flushChat(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending string
	if s.chatActive && len(s.chatBuf) > 0 {
		pending = string(s.chatBuf)
	}
	s.chatBuf = s.chatBuf[:0]
	s.chatActive = false

	if pending == "" || s.sinkClosed {
		return
	}
	select {
	case s.textOut <- TextMessage{Source: TextSourceChat, Text: pending}:
	default:
		slog.Warn("text sink full, final chat text dropped", "session_id", s.id)
	}
}

func (s *Session) emitText(ctx context.Context, msg TextMessage) {
	select {
	case s.textOut <- msg:
	case <-ctx.Done():
	}
}

func (s *Session) captureDialogID(payload []byte) {
	var p struct {
		DialogID string `json:"dialog_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.DialogID == "" {
		return
	}
	s.mu.Lock()
	s.dialogID = p.DialogID
	s.mu.Unlock()
	slog.Debug("dialog id captured", "session_id", s.id, "dialog_id", p.DialogID)
}
