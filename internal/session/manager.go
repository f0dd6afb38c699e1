package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session already ended")
	// ErrSessionBusy is returned when a connection is already attached.
	ErrSessionBusy = errors.New("session already has an attached connection")
)

type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	ChannelKind    string    `json:"channel_kind"`
	Attached       bool      `json:"attached"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	session Session
	detach  func()
}

// Manager is the registry of conversation sessions. At most one connection
// (and so one orchestrator) is attached to a session at a time.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, channelKind string) *Session {
	now := time.Now().UTC()
	e := &entry{session: Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ChannelKind:    channelKind,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[e.session.ID] = e
	return clone(e)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// Attach claims the session for one connection. detach is invoked when the
// session is ended or expires while attached, and must make the connection
// shut down.
func (m *Manager) Attach(sessionID string, detach func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.session.Status != StatusActive {
		return ErrEnded
	}
	if e.session.Attached {
		return ErrSessionBusy
	}
	e.session.Attached = true
	e.session.LastActivityAt = time.Now().UTC()
	e.detach = detach
	return nil
}

// Detach releases the claim taken by Attach.
func (m *Manager) Detach(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		e.session.Attached = false
		e.detach = nil
		e.session.LastActivityAt = time.Now().UTC()
	}
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	detach := m.endLocked(e, time.Now().UTC())
	out := clone(e)
	m.mu.Unlock()

	if detach != nil {
		detach()
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.session.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var (
		expired  []*Session
		detaches []func()
	)

	m.mu.Lock()
	for _, e := range m.sessions {
		if e.session.Status != StatusActive {
			continue
		}
		if now.Sub(e.session.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		if detach := m.endLocked(e, now); detach != nil {
			detaches = append(detaches, detach)
		}
		expired = append(expired, clone(e))
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, detach := range detaches {
		detach()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (m *Manager) endLocked(e *entry, now time.Time) func() {
	e.session.Status = StatusEnded
	e.session.LastActivityAt = now
	detach := e.detach
	e.detach = nil
	return detach
}

func clone(e *entry) *Session {
	c := e.session
	return &c
}
