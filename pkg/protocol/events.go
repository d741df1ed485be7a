package protocol

import "fmt"

// Event is the numeric discriminant carried in event-flagged frames. The
// enumeration is closed and externally defined; keep every code here so the
// dispatcher stays reviewable.
type Event uint32

// Client-issued lifecycle and content events.
const (
	EventStartConnection  Event = 1
	EventFinishConnection Event = 2
	EventStartSession     Event = 100
	EventFinishSession    Event = 102
	EventAudioInput       Event = 200
	EventSayHello         Event = 300
	EventChatTTSText      Event = 500
	EventChatTextQuery    Event = 501
)

// Server-pushed events.
const (
	EventConnectionStarted  Event = 50
	EventConnectionFinished Event = 52
	EventSessionStarted     Event = 150
	EventSessionFinished    Event = 152
	EventDialogueFinished   Event = 153
	EventTTSConfigAck       Event = 350
	EventTTSAudio           Event = 352
	EventASRInfo            Event = 450
	EventASRResult          Event = 451
	EventChatText           Event = 550
)

func (e Event) String() string {
	switch e {
	case EventStartConnection:
		return "start_connection"
	case EventFinishConnection:
		return "finish_connection"
	case EventConnectionStarted:
		return "connection_started"
	case EventConnectionFinished:
		return "connection_finished"
	case EventStartSession:
		return "start_session"
	case EventFinishSession:
		return "finish_session"
	case EventSessionStarted:
		return "session_started"
	case EventSessionFinished:
		return "session_finished"
	case EventDialogueFinished:
		return "dialogue_finished"
	case EventAudioInput:
		return "audio_input"
	case EventSayHello:
		return "say_hello"
	case EventTTSConfigAck:
		return "tts_config_ack"
	case EventTTSAudio:
		return "tts_audio"
	case EventASRInfo:
		return "asr_info"
	case EventASRResult:
		return "asr_result"
	case EventChatTTSText:
		return "chat_tts_text"
	case EventChatTextQuery:
		return "chat_text_query"
	}
	return fmt.Sprintf("event(%d)", uint32(e))
}
