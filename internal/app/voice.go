package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/mentorai/internal/config"
	"github.com/ent0n29/mentorai/internal/voice"
)

type voiceSetup struct {
	sttProvider      voice.STTProvider
	ttsProvider      voice.TTSProvider
	catalog          voice.VoiceCatalog
	resolvedProvider string
	defaultVoiceID   string
	defaultModelID   string
	detail           string
}

func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	elevenLabs := func(wsBase, apiBase string) *voice.ElevenLabsProvider {
		return voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:              cfg.ElevenLabsAPIKey,
			WSBaseURL:           wsBase,
			APIBaseURL:          apiBase,
			STTModelID:          cfg.ElevenLabsSTTModel,
			DefaultOutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
	}

	tryElevenLabs := func() (voiceSetup, bool) {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return voiceSetup{}, false
		}
		p := elevenLabs(cfg.ElevenLabsWSBaseURL, cfg.ElevenLabsAPIBaseURL)
		return voiceSetup{
			sttProvider:      p,
			ttsProvider:      p,
			catalog:          p,
			resolvedProvider: "elevenlabs",
			defaultVoiceID:   cfg.ElevenLabsTTSVoice,
			defaultModelID:   cfg.ElevenLabsTTSModel,
			detail:           "elevenlabs realtime",
		}, true
	}

	mock := func(detail string) voiceSetup {
		p := voice.NewMockProvider()
		return voiceSetup{
			sttProvider:      p,
			ttsProvider:      p,
			catalog:          p,
			resolvedProvider: "mock",
			detail:           detail,
		}
	}

	switch voiceMode {
	case "elevenlabs":
		if setup, ok := tryElevenLabs(); ok {
			return setup, nil
		}
		return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
	case "mock":
		return mock("mock"), nil
	case "auto":
		elevenSetup, ok := tryElevenLabs()
		if !ok {
			return mock("mock (no elevenlabs key)"), nil
		}
		// Auto never fails over to the mock; only to a secondary ElevenLabs
		// endpoint when one is configured.
		fallbackWS := strings.TrimSpace(cfg.ElevenLabsFallbackWSBaseURL)
		fallbackAPI := strings.TrimSpace(cfg.ElevenLabsFallbackAPIBaseURL)
		if fallbackWS == "" && fallbackAPI == "" {
			return elevenSetup, nil
		}
		if fallbackWS == "" {
			fallbackWS = cfg.ElevenLabsWSBaseURL
		}
		if fallbackAPI == "" {
			fallbackAPI = cfg.ElevenLabsAPIBaseURL
		}
		secondary := elevenLabs(fallbackWS, fallbackAPI)
		pair := voice.NewFailoverPair(elevenSetup.sttProvider, elevenSetup.ttsProvider, secondary, secondary, "", "")
		elevenSetup.sttProvider = pair
		elevenSetup.ttsProvider = pair
		elevenSetup.detail = "elevenlabs realtime (failover to " + fallbackWS + ")"
		return elevenSetup, nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.VoiceProvider)
	}
}
