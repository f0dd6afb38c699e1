package ledger

import (
	"context"
	"time"
)

type Kind string

const (
	KindSessionCreated Kind = "session_created"
	KindSessionEnded   Kind = "session_ended"
	KindTransition     Kind = "transition"
	KindNotification   Kind = "notification"
	KindResponse       Kind = "response"
)

// Entry is one lifecycle record of a conversation session. Entries never
// carry utterance or response text.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and lists session lifecycle entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}
