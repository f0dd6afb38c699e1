package voice

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/mentorai/internal/audio"
)

const (
	mockSampleRate     = 16000
	mockMillisPerWord  = 60
	mockMaxSilenceSecs = 4
)

// MockProvider is the offline provider used when ElevenLabs is not
// configured. Recognition commits a fixed transcript; synthesis produces a
// WAV of silence sized to the text.
type MockProvider struct {
	Transcript string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Transcript: "simulated voice input"}
}

func (p *MockProvider) StartSession(_ context.Context, _ string) (STTSession, <-chan STTEvent, error) {
	events := make(chan STTEvent, 64)
	return &mockSTTSession{events: events, transcript: p.Transcript}, events, nil
}

func (p *MockProvider) StartStream(_ context.Context, _ string, _ string, _ TTSSettings) (TTSStream, error) {
	return &mockTTSStream{events: make(chan TTSEvent, 8)}, nil
}

func (p *MockProvider) ListVoices(context.Context) ([]Voice, error) {
	return []Voice{
		{ID: "mock_fr", Name: "Amelie", Locale: "fr-FR"},
		{ID: "mock_en_us", Name: "Mentor (Google US English)", Locale: "en-US"},
		{ID: "mock_en_gb", Name: "Mentor (Microsoft UK English)", Locale: "en-GB"},
	}, nil
}

type mockSTTSession struct {
	mu         sync.Mutex
	events     chan STTEvent
	transcript string
	heard      bool
	closed     bool
}

func (s *mockSTTSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if audioBase64 != "" {
		s.heard = true
		s.emit(STTEvent{Type: STTEventPartial, Text: "...", Timestamp: time.Now().UnixMilli()})
	}
	if commit {
		text := s.transcript
		if !s.heard {
			text = ""
		}
		s.emit(STTEvent{Type: STTEventCommitted, Text: text, Timestamp: time.Now().UnixMilli()})
	}
	return nil
}

func (s *mockSTTSession) emit(ev STTEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

type mockTTSStream struct {
	mu     sync.Mutex
	events chan TTSEvent
	words  int
	closed bool
	done   bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.words += len(strings.Fields(text))
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.done {
		return nil
	}
	s.done = true

	ms := s.words * mockMillisPerWord
	if ms > mockMaxSilenceSecs*1000 {
		ms = mockMaxSilenceSecs * 1000
	}
	pcm := make([]byte, mockSampleRate*2*ms/1000)
	wav, err := audio.EncodeWAVPCM16LE(pcm, mockSampleRate)
	if err != nil {
		s.events <- TTSEvent{Type: TTSEventError, Code: "mock_encode", Detail: err.Error()}
		return nil
	}
	s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: base64.StdEncoding.EncodeToString(wav), Format: "wav_16000"}
	s.events <- TTSEvent{Type: TTSEventFinal}
	return nil
}

func (s *mockTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
