package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps entries in process, bounded per session.
type InMemoryStore struct {
	mu         sync.RWMutex
	perSession int
	entries    map[string][]Entry
}

func NewInMemoryStore(perSession int) *InMemoryStore {
	if perSession <= 0 {
		perSession = 4096
	}
	return &InMemoryStore{perSession: perSession, entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	entry = withDefaults(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.entries[entry.SessionID], entry)
	if len(arr) > s.perSession {
		arr = arr[len(arr)-s.perSession:]
	}
	s.entries[entry.SessionID] = arr
	return nil
}

// List returns up to limit of the most recent entries in chronological order.
func (s *InMemoryStore) List(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[sessionID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	return append([]Entry(nil), arr[len(arr)-limit:]...), nil
}

func (s *InMemoryStore) Close() error { return nil }

func withDefaults(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}
