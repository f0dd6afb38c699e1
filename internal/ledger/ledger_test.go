package ledger

import (
	"context"
	"testing"
)

func TestInMemoryStoreListsRecentInOrder(t *testing.T) {
	s := NewInMemoryStore(3)
	ctx := context.Background()
	for _, to := range []string{"listening", "transcribing", "awaiting_response", "speaking"} {
		if err := s.Append(ctx, Entry{SessionID: "s1", Kind: KindTransition, To: to}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	_ = s.Append(ctx, Entry{SessionID: "s2", Kind: KindSessionCreated})

	got, err := s.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(List()) = %d, want bounded to 3", len(got))
	}
	if got[0].To != "transcribing" || got[2].To != "speaking" {
		t.Fatalf("List() order = %v..%v, want chronological tail", got[0].To, got[2].To)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("entry defaults not applied: %+v", got[0])
	}

	limited, _ := s.List(ctx, "s1", 1)
	if len(limited) != 1 || limited[0].To != "speaking" {
		t.Fatalf("List(limit=1) = %+v, want most recent", limited)
	}
}

func TestNewStoreWithoutDatabaseURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}

func TestWriterFlushesOnClose(t *testing.T) {
	s := NewInMemoryStore(0)
	w := NewWriter(s, 8, nil)
	w.Append(Entry{SessionID: "s1", Kind: KindNotification, Detail: "synthesis_failure"})
	w.Append(Entry{SessionID: "s1", Kind: KindSessionEnded})
	w.Close()
	w.Close()
	w.Append(Entry{SessionID: "s1", Kind: KindTransition})

	got, _ := s.List(context.Background(), "s1", 0)
	if len(got) != 2 || got[1].Kind != KindSessionEnded {
		t.Fatalf("entries = %+v, want both flushed in order", got)
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Append(Entry{SessionID: "s1"})
	w.Close()
}
