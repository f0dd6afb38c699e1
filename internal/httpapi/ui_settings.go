package httpapi

import "net/http"

// clientSettingsResponse tells the browser how to capture and play audio.
type clientSettingsResponse struct {
	Transport        string   `json:"transport"`
	CaptureTimeoutMS int64    `json:"capture_timeout_ms"`
	VoiceRate        float64  `json:"voice_rate"`
	VoicePitch       float64  `json:"voice_pitch"`
	VoiceVolume      float64  `json:"voice_volume"`
	PreferredVendors []string `json:"preferred_vendors"`
	PreferredLocale  string   `json:"preferred_locale"`
	InactivityTTLMS  int64    `json:"inactivity_ttl_ms"`
}

func (s *Server) handleClientSettings(w http.ResponseWriter, _ *http.Request) {
	vendors := s.cfg.VoicePreferredVendors
	if vendors == nil {
		vendors = []string{}
	}
	respondJSON(w, http.StatusOK, clientSettingsResponse{
		Transport:        s.channelKind(),
		CaptureTimeoutMS: s.cfg.CaptureTimeout.Milliseconds(),
		VoiceRate:        s.cfg.VoiceRate,
		VoicePitch:       s.cfg.VoicePitch,
		VoiceVolume:      s.cfg.VoiceVolume,
		PreferredVendors: vendors,
		PreferredLocale:  s.cfg.VoicePreferredLocale,
		InactivityTTLMS:  s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}
