package voice

import (
	"context"
	"sync"
)

type chanSTTSession struct {
	events chan STTEvent

	mu     sync.Mutex
	closed int
	chunks []string
	once   sync.Once
}

func newChanSTTSession() *chanSTTSession {
	return &chanSTTSession{events: make(chan STTEvent, 16)}
}

func (s *chanSTTSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if commit {
		s.chunks = append(s.chunks, "<commit>")
		return nil
	}
	s.chunks = append(s.chunks, audioBase64)
	return nil
}

func (s *chanSTTSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *chanSTTSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type chanTTSStream struct {
	name   string
	log    *eventLog
	events chan TTSEvent
	input  chan string
	once   sync.Once
}

func (s *chanTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.input <- text
	return nil
}

func (s *chanTTSStream) CloseInput(context.Context) error { return nil }
func (s *chanTTSStream) Events() <-chan TTSEvent          { return s.events }

func (s *chanTTSStream) Close() error {
	s.once.Do(func() {
		s.log.add("close " + s.name)
		close(s.events)
	})
	return nil
}

type eventLog struct {
	mu    sync.Mutex
	items []string
}

func (l *eventLog) add(item string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, item)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.items...)
}

type stubSTTProvider struct {
	startSession func(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error)
}

func (p *stubSTTProvider) StartSession(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error) {
	return p.startSession(ctx, sessionID)
}
