package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the mentor conversation service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	// TraceStdout exports spans to stdout next to the log records.
	TraceStdout bool

	AllowAnyOrigin bool

	// ConversationTransport selects one transport strategy per deployment:
	// native (STT + responder + TTS), agent (hosted ElevenLabs agent) or auto.
	ConversationTransport string
	CaptureTimeout        time.Duration

	VoiceProvider         string
	VoiceRate             float64
	VoicePitch            float64
	VoiceVolume           float64
	VoicePreferredVendors []string
	VoicePreferredLocale  string

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsAPIBaseURL      string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsSTTModel        string
	ElevenLabsTTSOutputFormat string

	// Secondary ElevenLabs endpoints (for example a data residency region)
	// used by auto voice mode when the primary endpoints fail to open.
	ElevenLabsFallbackWSBaseURL  string
	ElevenLabsFallbackAPIBaseURL string

	ElevenLabsAgentID   string
	AgentConnectTimeout time.Duration
	AgentQuietAfter     time.Duration

	ResponderRemoteURL      string
	ResponderTimeout        time.Duration
	ResponderRulesFile      string
	ResponderBreakerFailure int
	ResponderBreakerReset   time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "mentorai"),
		AllowAnyOrigin:        false,
		ConversationTransport: strings.ToLower(envOrDefault("CONVERSATION_TRANSPORT", "auto")),
		VoiceProvider:         strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),
		// Matches the browser speech synthesis settings the mentor shipped with.
		VoiceRate:             0.9,
		VoicePitch:            1.1,
		VoiceVolume:           0.8,
		VoicePreferredVendors: splitList(envOrDefault("VOICE_PREFERRED_VENDORS", "Google,Microsoft")),
		VoicePreferredLocale:  envOrDefault("VOICE_PREFERRED_LOCALE", "en"),
		ElevenLabsWSBaseURL:   envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsAPIBaseURL:  envOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsTTSVoice:    envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:    envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:    envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		// Prefer low-latency PCM for realtime playback.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		ElevenLabsAPIKey:          stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsAgentID:         stringsTrimSpace("ELEVENLABS_AGENT_ID"),
		ResponderRemoteURL:        stringsTrimSpace("RESPONDER_REMOTE_URL"),
		ResponderRulesFile:        stringsTrimSpace("RESPONDER_RULES_FILE"),
		ResponderBreakerFailure:   3,
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:           15 * time.Second,
		SessionInactivityTimeout:  2 * time.Minute,
		CaptureTimeout:            10 * time.Second,
		AgentConnectTimeout:       10 * time.Second,
		AgentQuietAfter:           700 * time.Millisecond,
		ResponderTimeout:          8 * time.Second,
		ResponderBreakerReset:     30 * time.Second,

		ElevenLabsFallbackWSBaseURL:  stringsTrimSpace("ELEVENLABS_FALLBACK_WS_BASE_URL"),
		ElevenLabsFallbackAPIBaseURL: stringsTrimSpace("ELEVENLABS_FALLBACK_API_BASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureTimeout, err = durationFromEnv("CAPTURE_TIMEOUT", cfg.CaptureTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentConnectTimeout, err = durationFromEnv("AGENT_CONNECT_TIMEOUT", cfg.AgentConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentQuietAfter, err = durationFromEnv("AGENT_QUIET_AFTER", cfg.AgentQuietAfter)
	if err != nil {
		return Config{}, err
	}
	cfg.ResponderTimeout, err = durationFromEnv("RESPONDER_TIMEOUT", cfg.ResponderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ResponderBreakerReset, err = durationFromEnv("RESPONDER_BREAKER_RESET", cfg.ResponderBreakerReset)
	if err != nil {
		return Config{}, err
	}
	cfg.ResponderBreakerFailure, err = intFromEnv("RESPONDER_BREAKER_FAILURES", cfg.ResponderBreakerFailure)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TraceStdout, err = boolFromEnv("APP_TRACE_STDOUT", cfg.TraceStdout)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceRate, err = floatFromEnv("VOICE_RATE", cfg.VoiceRate)
	if err != nil {
		return Config{}, err
	}
	cfg.VoicePitch, err = floatFromEnv("VOICE_PITCH", cfg.VoicePitch)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceVolume, err = floatFromEnv("VOICE_VOLUME", cfg.VoiceVolume)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.CaptureTimeout <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_TIMEOUT must be positive")
	}
	if cfg.AgentConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENT_CONNECT_TIMEOUT must be positive")
	}
	if cfg.ResponderTimeout <= 0 {
		return Config{}, fmt.Errorf("RESPONDER_TIMEOUT must be positive")
	}
	if cfg.ResponderBreakerFailure <= 0 {
		return Config{}, fmt.Errorf("RESPONDER_BREAKER_FAILURES must be positive")
	}
	if cfg.VoiceRate <= 0 || cfg.VoicePitch <= 0 {
		return Config{}, fmt.Errorf("VOICE_RATE and VOICE_PITCH must be positive")
	}
	if cfg.VoiceVolume < 0 || cfg.VoiceVolume > 1 {
		return Config{}, fmt.Errorf("VOICE_VOLUME must be within [0,1]")
	}
	switch cfg.ConversationTransport {
	case "auto", "native", "agent":
	default:
		return Config{}, fmt.Errorf("invalid CONVERSATION_TRANSPORT: %q (expected auto|native|agent)", cfg.ConversationTransport)
	}
	if cfg.ConversationTransport == "agent" && cfg.ElevenLabsAgentID == "" {
		return Config{}, fmt.Errorf("CONVERSATION_TRANSPORT=agent requires ELEVENLABS_AGENT_ID")
	}

	return cfg, nil
}

// UseAgentTransport reports whether sessions should run over the hosted agent.
func (c Config) UseAgentTransport() bool {
	switch c.ConversationTransport {
	case "agent":
		return true
	case "auto":
		return c.ElevenLabsAgentID != ""
	default:
		return false
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
