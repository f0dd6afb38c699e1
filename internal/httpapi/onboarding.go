package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	VoiceProvider string            `json:"voice_provider"`
	Transport     string            `json:"transport"`
	ResponderMode string            `json:"responder_mode"`
	LedgerMode    string            `json:"ledger_mode"`
	Checks        []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	voiceProvider := strings.ToLower(strings.TrimSpace(s.cfg.VoiceProvider))
	if voiceProvider == "" {
		voiceProvider = "auto"
	}

	checks := make([]onboardingCheck, 0, 8)
	checks = append(checks, onboardingCheck{
		ID:     "voice_provider",
		Status: "ok",
		Label:  "Voice backend",
		Detail: voiceProvider,
	})
	checks = append(checks, s.voiceChecks(voiceProvider)...)
	checks = append(checks, s.transportChecks()...)

	responderMode, responderChecks := s.responderChecks()
	checks = append(checks, responderChecks...)

	ledgerMode := s.ledgerMode()
	switch ledgerMode {
	case "postgres":
		checks = append(checks, onboardingCheck{
			ID:     "ledger",
			Status: "ok",
			Label:  "Session ledger",
			Detail: "postgres",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "ledger",
			Status: "warn",
			Label:  "Session ledger",
			Detail: ledgerMode,
			Fix:    "Set DATABASE_URL to keep session lifecycle events across restarts.",
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		VoiceProvider: voiceProvider,
		Transport:     s.channelKind(),
		ResponderMode: responderMode,
		LedgerMode:    ledgerMode,
		Checks:        checks,
	})
}

func (s *Server) voiceChecks(provider string) []onboardingCheck {
	hasKey := strings.TrimSpace(s.cfg.ElevenLabsAPIKey) != ""
	switch provider {
	case "elevenlabs":
		if !hasKey {
			return []onboardingCheck{{
				ID:     "elevenlabs_key",
				Status: "error",
				Label:  "ElevenLabs API key",
				Detail: "ELEVENLABS_API_KEY is not set",
				Fix:    "Set ELEVENLABS_API_KEY or switch to VOICE_PROVIDER=mock.",
			}}
		}
		return []onboardingCheck{{ID: "elevenlabs_key", Status: "ok", Label: "ElevenLabs API key", Detail: "present"}}
	case "mock":
		return []onboardingCheck{{
			ID:     "mock_voice",
			Status: "warn",
			Label:  "Voice backend is mock",
			Detail: "Speech is recognized as a fixed phrase and answered with silence.",
			Fix:    "Set ELEVENLABS_API_KEY and VOICE_PROVIDER=elevenlabs for real speech.",
		}}
	default:
		if hasKey {
			detail := "present"
			if strings.TrimSpace(s.cfg.ElevenLabsFallbackWSBaseURL) != "" || strings.TrimSpace(s.cfg.ElevenLabsFallbackAPIBaseURL) != "" {
				detail = "present (secondary endpoint failover enabled)"
			}
			return []onboardingCheck{{ID: "elevenlabs_key", Status: "ok", Label: "ElevenLabs API key", Detail: detail}}
		}
		return []onboardingCheck{{
			ID:     "elevenlabs_key",
			Status: "warn",
			Label:  "ElevenLabs API key",
			Detail: "not set, using mock voice",
			Fix:    "Set ELEVENLABS_API_KEY for real speech.",
		}}
	}
}

func (s *Server) transportChecks() []onboardingCheck {
	if !s.cfg.UseAgentTransport() {
		return []onboardingCheck{{
			ID:     "transport",
			Status: "ok",
			Label:  "Conversation transport",
			Detail: "native speech (STT, responder, TTS)",
		}}
	}
	check := onboardingCheck{
		ID:     "transport",
		Status: "ok",
		Label:  "Conversation transport",
		Detail: fmt.Sprintf("hosted agent %s", s.cfg.ElevenLabsAgentID),
	}
	if strings.TrimSpace(s.cfg.ElevenLabsAPIKey) == "" {
		check.Status = "warn"
		check.Fix = "Public agents work without a key; set ELEVENLABS_API_KEY for private agents."
	}
	return []onboardingCheck{check}
}

func (s *Server) responderChecks() (string, []onboardingCheck) {
	checks := make([]onboardingCheck, 0, 3)
	mode := "rules"

	if rulesFile := strings.TrimSpace(s.cfg.ResponderRulesFile); rulesFile != "" {
		if _, err := os.Stat(rulesFile); err != nil {
			checks = append(checks, onboardingCheck{
				ID:     "responder_rules",
				Status: "error",
				Label:  "Responder rules file",
				Detail: err.Error(),
				Fix:    "Point RESPONDER_RULES_FILE at a readable YAML rule table.",
			})
		} else {
			checks = append(checks, onboardingCheck{ID: "responder_rules", Status: "ok", Label: "Responder rules file", Detail: rulesFile})
		}
	}

	remote := strings.TrimSpace(s.cfg.ResponderRemoteURL)
	if remote == "" {
		checks = append(checks, onboardingCheck{
			ID:     "responder_remote",
			Status: "warn",
			Label:  "Remote responder",
			Detail: "not configured, answering from local rules only",
			Fix:    "Set RESPONDER_REMOTE_URL to a chat endpoint accepting {\"message\"}.",
		})
		return mode, checks
	}

	mode = "remote+rules"
	if err := probeTCP(remote); err != nil {
		checks = append(checks, onboardingCheck{
			ID:     "responder_remote",
			Status: "warn",
			Label:  "Remote responder",
			Detail: fmt.Sprintf("%s unreachable: %v", remote, err),
			Fix:    "Start the chat endpoint; answers fall back to local rules meanwhile.",
		})
		return mode, checks
	}
	checks = append(checks, onboardingCheck{ID: "responder_remote", Status: "ok", Label: "Remote responder", Detail: remote})
	return mode, checks
}

func probeTCP(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
