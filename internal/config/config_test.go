package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.CaptureTimeout != 10*time.Second {
		t.Fatalf("CaptureTimeout = %v, want 10s", cfg.CaptureTimeout)
	}
	if cfg.VoiceRate != 0.9 || cfg.VoicePitch != 1.1 || cfg.VoiceVolume != 0.8 {
		t.Fatalf("voice settings = %v/%v/%v, want 0.9/1.1/0.8", cfg.VoiceRate, cfg.VoicePitch, cfg.VoiceVolume)
	}
	if len(cfg.VoicePreferredVendors) != 2 || cfg.VoicePreferredVendors[0] != "Google" {
		t.Fatalf("VoicePreferredVendors = %v, want [Google Microsoft]", cfg.VoicePreferredVendors)
	}
	if cfg.ResponderRemoteURL != "" {
		t.Fatalf("ResponderRemoteURL = %q, want empty default", cfg.ResponderRemoteURL)
	}
	if cfg.UseAgentTransport() {
		t.Fatalf("UseAgentTransport() = true, want false without agent id")
	}
	if cfg.TraceStdout {
		t.Fatalf("TraceStdout = true, want false by default")
	}
}

func TestLoadAutoTransportPicksAgentWhenConfigured(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ELEVENLABS_AGENT_ID", "agent_123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.UseAgentTransport() {
		t.Fatalf("UseAgentTransport() = false, want true")
	}
}

func TestLoadRejectsAgentTransportWithoutAgentID(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CONVERSATION_TRANSPORT", "agent")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for agent transport without agent id")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CAPTURE_TIMEOUT", "3s")
	t.Setenv("VOICE_VOLUME", "0.5")
	t.Setenv("RESPONDER_REMOTE_URL", "http://localhost:7777/api/chat")
	t.Setenv("CONVERSATION_TRANSPORT", "native")
	t.Setenv("ELEVENLABS_AGENT_ID", "agent_123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CaptureTimeout != 3*time.Second {
		t.Fatalf("CaptureTimeout = %v, want 3s", cfg.CaptureTimeout)
	}
	if cfg.VoiceVolume != 0.5 {
		t.Fatalf("VoiceVolume = %v, want 0.5", cfg.VoiceVolume)
	}
	if cfg.ResponderRemoteURL != "http://localhost:7777/api/chat" {
		t.Fatalf("ResponderRemoteURL = %q, want explicit value", cfg.ResponderRemoteURL)
	}
	if cfg.UseAgentTransport() {
		t.Fatalf("UseAgentTransport() = true, want false for native transport")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CAPTURE_TIMEOUT":        "soon",
		"VOICE_VOLUME":           "1.5",
		"CONVERSATION_TRANSPORT": "carrier-pigeon",
		"APP_ALLOW_ANY_ORIGIN":   "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error for %s=%q", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_TRACE_STDOUT",
		"CONVERSATION_TRANSPORT",
		"CAPTURE_TIMEOUT",
		"VOICE_PROVIDER",
		"VOICE_RATE",
		"VOICE_PITCH",
		"VOICE_VOLUME",
		"VOICE_PREFERRED_VENDORS",
		"VOICE_PREFERRED_LOCALE",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_API_BASE_URL",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_TTS_OUTPUT_FORMAT",
		"ELEVENLABS_AGENT_ID",
		"ELEVENLABS_FALLBACK_WS_BASE_URL",
		"ELEVENLABS_FALLBACK_API_BASE_URL",
		"AGENT_CONNECT_TIMEOUT",
		"AGENT_QUIET_AFTER",
		"RESPONDER_REMOTE_URL",
		"RESPONDER_TIMEOUT",
		"RESPONDER_RULES_FILE",
		"RESPONDER_BREAKER_FAILURES",
		"RESPONDER_BREAKER_RESET",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
