package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/mentorai/internal/config"
	"github.com/ent0n29/mentorai/internal/voice"
)

func TestResolveVoiceProviders(t *testing.T) {
	setup, err := resolveVoiceProviders(config.Config{VoiceProvider: "mock"})
	if err != nil {
		t.Fatalf("resolveVoiceProviders(mock) error = %v", err)
	}
	if setup.resolvedProvider != "mock" || setup.catalog == nil {
		t.Fatalf("mock setup = %+v, want mock provider with catalog", setup)
	}

	setup, err = resolveVoiceProviders(config.Config{VoiceProvider: "auto"})
	if err != nil {
		t.Fatalf("resolveVoiceProviders(auto) error = %v", err)
	}
	if setup.resolvedProvider != "mock" {
		t.Fatalf("auto without key resolved %q, want mock", setup.resolvedProvider)
	}

	setup, err = resolveVoiceProviders(config.Config{VoiceProvider: "auto", ElevenLabsAPIKey: "xi-key", ElevenLabsTTSVoice: "voice-1"})
	if err != nil {
		t.Fatalf("resolveVoiceProviders(auto with key) error = %v", err)
	}
	if _, ok := setup.sttProvider.(*voice.ElevenLabsProvider); !ok {
		t.Fatalf("auto with key stt = %T, want *voice.ElevenLabsProvider without a mock fallback", setup.sttProvider)
	}
	if _, ok := setup.ttsProvider.(*voice.ElevenLabsProvider); !ok {
		t.Fatalf("auto with key tts = %T, want *voice.ElevenLabsProvider without a mock fallback", setup.ttsProvider)
	}
	if _, ok := setup.catalog.(*voice.ElevenLabsProvider); !ok {
		t.Fatalf("auto with key catalog = %T, want *voice.ElevenLabsProvider", setup.catalog)
	}
	if setup.resolvedProvider != "elevenlabs" || setup.defaultVoiceID != "voice-1" {
		t.Fatalf("auto with key = %q/%q, want elevenlabs/voice-1", setup.resolvedProvider, setup.defaultVoiceID)
	}

	setup, err = resolveVoiceProviders(config.Config{
		VoiceProvider:               "auto",
		ElevenLabsAPIKey:            "xi-key",
		ElevenLabsWSBaseURL:         "wss://api.elevenlabs.io",
		ElevenLabsAPIBaseURL:        "https://api.elevenlabs.io",
		ElevenLabsFallbackWSBaseURL: "wss://api.eu.residency.elevenlabs.io",
	})
	if err != nil {
		t.Fatalf("resolveVoiceProviders(auto with fallback endpoint) error = %v", err)
	}
	pair, ok := setup.sttProvider.(*voice.FailoverPair)
	if !ok {
		t.Fatalf("auto with fallback endpoint stt = %T, want *voice.FailoverPair", setup.sttProvider)
	}
	if setup.ttsProvider != voice.TTSProvider(pair) {
		t.Fatalf("auto with fallback endpoint tts = %T, want the same failover pair", setup.ttsProvider)
	}

	for _, mode := range []string{"elevenlabs", "whisper"} {
		if _, err := resolveVoiceProviders(config.Config{VoiceProvider: mode}); err == nil {
			t.Fatalf("resolveVoiceProviders(%s) expected error", mode)
		}
	}
}

func TestBuildResponderLoadsRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "rules:\n  - name: relativity\n    any: [relativity]\n    reply: Relativity ties space and time into one fabric.\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	chain, err := buildResponder(config.Config{ResponderRulesFile: path})
	if err != nil {
		t.Fatalf("buildResponder() error = %v", err)
	}
	res := chain.GetResponse(context.Background(), "What is the theory of relativity?")
	if res.Text != "Relativity ties space and time into one fabric." {
		t.Fatalf("GetResponse() = %q, want rule reply", res.Text)
	}

	if _, err := buildResponder(config.Config{ResponderRulesFile: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("buildResponder() expected error for missing rules file")
	}
}

func TestBuildWiresNativeDeployment(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         "app_build_test",
		ConversationTransport:    "native",
		VoiceProvider:            "mock",
		SessionInactivityTimeout: time.Minute,
		CaptureTimeout:           time.Second,
		VoiceRate:                0.9,
		VoicePitch:               1.1,
		VoiceVolume:              0.8,
	}
	built, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if built.Transport != "native_speech" || built.Voice.Provider != "mock" {
		t.Fatalf("transport/provider = %q/%q, want native_speech/mock", built.Transport, built.Voice.Provider)
	}
	if built.API == nil || built.Gateway == nil || built.Sessions == nil {
		t.Fatalf("Build() left components unset: %+v", built)
	}
}
