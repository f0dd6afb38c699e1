package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// FailoverPair wraps a primary and a fallback backend. Startup failures on the
// primary switch both directions to the fallback, which stays active until
// it fails itself; the primary is then retried.
type FailoverPair struct {
	onFallback atomic.Bool

	primarySTT  STTProvider
	primaryTTS  TTSProvider
	fallbackSTT STTProvider
	fallbackTTS TTSProvider

	fallbackVoiceID string
	fallbackModelID string
}

func NewFailoverPair(primarySTT STTProvider, primaryTTS TTSProvider, fallbackSTT STTProvider, fallbackTTS TTSProvider, fallbackVoiceID, fallbackModelID string) *FailoverPair {
	return &FailoverPair{
		primarySTT:      primarySTT,
		primaryTTS:      primaryTTS,
		fallbackSTT:     fallbackSTT,
		fallbackTTS:     fallbackTTS,
		fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
		fallbackModelID: strings.TrimSpace(fallbackModelID),
	}
}

// UsingFallback reports whether the fallback backend is currently preferred.
func (p *FailoverPair) UsingFallback() bool { return p.onFallback.Load() }

func (p *FailoverPair) StartSession(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error) {
	type opened struct {
		s  STTSession
		ev <-chan STTEvent
	}
	var out opened
	err := p.run("stt",
		func() error {
			s, ev, err := p.primarySTT.StartSession(ctx, sessionID)
			out = opened{s, ev}
			return err
		},
		func() error {
			s, ev, err := p.fallbackSTT.StartSession(ctx, sessionID)
			out = opened{s, ev}
			return err
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return out.s, out.ev, nil
}

func (p *FailoverPair) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	var out TTSStream
	err := p.run("tts",
		func() error {
			s, err := p.primaryTTS.StartStream(ctx, voiceID, modelID, settings)
			out = s
			return err
		},
		func() error {
			v, m := voiceID, modelID
			if p.fallbackVoiceID != "" {
				v = p.fallbackVoiceID
			}
			if p.fallbackModelID != "" {
				m = p.fallbackModelID
			}
			s, err := p.fallbackTTS.StartStream(ctx, v, m, settings)
			out = s
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run tries the preferred side first and the other side second, flipping the
// shared preference when the second attempt is the one that succeeds.
func (p *FailoverPair) run(kind string, primary, fallback func() error) error {
	first, second := primary, fallback
	firstName, secondName := "primary", "fallback"
	if p.onFallback.Load() {
		first, second = fallback, primary
		firstName, secondName = "fallback", "primary"
	}

	firstErr := first()
	if firstErr == nil {
		return nil
	}
	secondErr := second()
	if secondErr != nil {
		return fmt.Errorf("%s %s failed: %v; %s %s failed: %w", kind, firstName, firstErr, kind, secondName, secondErr)
	}
	p.onFallback.Store(secondName == "fallback")
	slog.Warn("voice backend switched", "kind", kind, "now", secondName, "error", firstErr)
	return nil
}
