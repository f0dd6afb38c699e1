package conversation

import (
	"fmt"
	"time"
)

// State is the single source of truth for what a session is doing. The
// listening, transcribing, awaiting-response and speaking conditions are
// projections of it, so at most one of them holds at a time.
type State string

const (
	StateIdle             State = "idle"
	StateConnecting       State = "connecting"
	StateListening        State = "listening"
	StateTranscribing     State = "transcribing"
	StateAwaitingResponse State = "awaiting_response"
	StateSpeaking         State = "speaking"
	StateError            State = "error"
)

type ChannelKind string

const (
	ChannelNativeSpeech  ChannelKind = "native_speech"
	ChannelExternalAgent ChannelKind = "external_agent"
)

type Origin string

const (
	OriginCapture Origin = "capture"
	OriginTyped   Origin = "typed"
	OriginAgent   Origin = "agent"
)

// Utterance is one piece of user text, consumed once.
type Utterance struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
	Origin     Origin    `json:"origin"`
}

type ErrorKind string

const (
	ErrPermissionDenied   ErrorKind = "permission_denied"
	ErrRecognitionFailure ErrorKind = "recognition_failure"
	ErrSynthesisFailure   ErrorKind = "synthesis_failure"
	ErrResponseFailure    ErrorKind = "response_failure"
	ErrConnectionFailure  ErrorKind = "connection_failure"
	ErrProcessing         ErrorKind = "processing_error"
)

// Error is a user-facing failure recorded on the session.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Session is the per-conversation record owned by the orchestrator loop.
type Session struct {
	ID               string
	State            State
	ChannelKind      ChannelKind
	PendingRequestID string
	LastError        *Error
	LastTranscript   string
}

// SignalSnapshot is an immutable copy of the session signals pushed to
// subscribers on every change.
type SignalSnapshot struct {
	SessionID      string      `json:"session_id"`
	State          State       `json:"state"`
	ChannelKind    ChannelKind `json:"channel_kind"`
	IsListening    bool        `json:"is_listening"`
	IsSpeaking     bool        `json:"is_speaking"`
	LastTranscript string      `json:"last_transcript,omitempty"`
	LastError      *Error      `json:"last_error,omitempty"`
	Seq            uint64      `json:"seq"`
	At             time.Time   `json:"at"`
}

type NotificationKind string

const (
	NotifyPermissionDenied   = NotificationKind(ErrPermissionDenied)
	NotifyRecognitionFailure = NotificationKind(ErrRecognitionFailure)
	NotifySynthesisFailure   = NotificationKind(ErrSynthesisFailure)
	NotifyConnectionFailure  = NotificationKind(ErrConnectionFailure)
	NotifyProcessingError    = NotificationKind(ErrProcessing)
	NotifyAgentConnected     NotificationKind = "agent_connected"
	NotifyAgentDisconnected  NotificationKind = "agent_disconnected"
)

// Notification is a toast-style message for the user.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	IsError bool             `json:"is_error"`
}

func notificationFor(kind NotificationKind) Notification {
	switch kind {
	case NotifyPermissionDenied:
		return Notification{Kind: kind, IsError: true, Title: "Microphone Access Denied", Message: "Please allow microphone access to use voice features."}
	case NotifyRecognitionFailure:
		return Notification{Kind: kind, IsError: true, Title: "Voice Recognition Error", Message: "Could not understand your voice. Please try again."}
	case NotifySynthesisFailure:
		return Notification{Kind: kind, IsError: true, Title: "Speech Error", Message: "Could not play the mentor's answer."}
	case NotifyConnectionFailure:
		return Notification{Kind: kind, IsError: true, Title: "Connection Error", Message: "Failed to connect to the AI mentor. Please try again."}
	case NotifyAgentConnected:
		return Notification{Kind: kind, Title: "AI Connected", Message: "You can now speak with your AI mentor!"}
	case NotifyAgentDisconnected:
		return Notification{Kind: kind, Title: "AI Disconnected", Message: "Voice conversation ended."}
	default:
		return Notification{Kind: NotifyProcessingError, IsError: true, Title: "Error", Message: "Failed to process your message. Please try again."}
	}
}
