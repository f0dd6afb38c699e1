package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "native_speech")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.ChannelKind != "native_speech" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	if _, err := m.End("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerAttachIsExclusive(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "native_speech")

	if err := m.Attach(s.ID, func() {}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := m.Attach(s.ID, func() {}); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second Attach() error = %v, want ErrSessionBusy", err)
	}
	m.Detach(s.ID)
	if err := m.Attach(s.ID, func() {}); err != nil {
		t.Fatalf("Attach() after Detach error = %v", err)
	}
}

func TestManagerEndDetachesConnection(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "external_agent")

	var detached atomic.Int32
	if err := m.Attach(s.ID, func() { detached.Add(1) }); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if got := detached.Load(); got != 1 {
		t.Fatalf("detach calls = %d, want 1", got)
	}
	if err := m.Attach(s.ID, func() {}); !errors.Is(err, ErrEnded) {
		t.Fatalf("Attach() on ended session error = %v, want ErrEnded", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", "native_speech")

	var detached atomic.Int32
	if err := m.Attach(s.ID, func() { detached.Add(1) }); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired id = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("session did not expire")
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	if detached.Load() != 1 {
		t.Fatalf("attached connection was not detached on expiry")
	}
}
