package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeSignalSnapshot   MessageType = "signal_snapshot"
	TypeNotification     MessageType = "notification"
	TypeTranscript       MessageType = "transcript"
	TypeAssistantText    MessageType = "assistant_text"
	TypeAssistantAudio   MessageType = "assistant_audio_chunk"
	TypeCaptureControl   MessageType = "capture_control"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionBegin        = "begin"
	ActionSubmitText   = "submit_text"
	ActionEnd          = "end"
	ActionCommit       = "commit"
	ActionCaptureError = "capture_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientControl carries a user command. Text is set for submit_text; Code
// and Detail describe a capture_error reported by the browser.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Text      string      `json:"text,omitempty"`
	Code      string      `json:"code,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ErrorInfo struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

type SignalSnapshot struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	State          string      `json:"state"`
	ChannelKind    string      `json:"channel_kind"`
	IsListening    bool        `json:"is_listening"`
	IsSpeaking     bool        `json:"is_speaking"`
	LastTranscript string      `json:"last_transcript,omitempty"`
	LastError      *ErrorInfo  `json:"last_error,omitempty"`
	Seq            uint64      `json:"seq"`
	At             time.Time   `json:"at"`
}

type Notification struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	IsError   bool        `json:"is_error"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Origin    string      `json:"origin"`
}

type AssistantText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Source    string      `json:"source"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	Pitch       float64     `json:"pitch,omitempty"`
	Volume      float64     `json:"volume,omitempty"`
}

// CaptureControl asks the client to acquire or release the microphone.
type CaptureControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionBegin, ActionEnd, ActionCommit:
		case ActionSubmitText:
			if strings.TrimSpace(msg.Text) == "" {
				return nil, errors.New("submit_text requires text")
			}
		case ActionCaptureError:
			if strings.TrimSpace(msg.Code) == "" {
				return nil, errors.New("capture_error requires code")
			}
		default:
			return nil, fmt.Errorf("unknown client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the type tag of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientAudioChunk:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case SignalSnapshot:
		return m.Type, true
	case Notification:
		return m.Type, true
	case Transcript:
		return m.Type, true
	case AssistantText:
		return m.Type, true
	case AssistantAudioChunk:
		return m.Type, true
	case CaptureControl:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
