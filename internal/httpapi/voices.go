package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/ent0n29/mentorai/internal/audio"
	"github.com/ent0n29/mentorai/internal/voice"
)

type listVoicesResponse struct {
	DefaultVoiceID string        `json:"default_voice_id"`
	PreferredVoice string        `json:"preferred_voice_id,omitempty"`
	Voices         []voice.Voice `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	if s.opts.Voices == nil {
		respondJSON(w, http.StatusOK, listVoicesResponse{
			DefaultVoiceID: s.cfg.ElevenLabsTTSVoice,
			Voices:         []voice.Voice{},
		})
		return
	}

	voices, err := s.opts.Voices.ListVoices(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "voice_catalog_failed", err.Error())
		return
	}
	all := make([]voice.Voice, 0, len(voices))
	for _, v := range voices {
		if strings.TrimSpace(v.ID) == "" || strings.TrimSpace(v.Name) == "" {
			continue
		}
		all = append(all, v)
	}
	preferred := voice.SelectVoice(all, s.cfg.VoicePreferredVendors, s.cfg.VoicePreferredLocale)
	sort.Slice(all, func(i, j int) bool {
		return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
	})

	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultVoiceID: s.cfg.ElevenLabsTTSVoice,
		PreferredVoice: preferred,
		Voices:         all,
	})
}

type previewSpeechRequest struct {
	Text string `json:"text"`
}

const defaultPreviewText = "Hello! I'm MentorAI, your personal training mentor."

func (s *Server) handlePreviewSpeech(w http.ResponseWriter, r *http.Request) {
	if s.opts.Preview == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech preview not configured")
		return
	}
	var req previewSpeechRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = defaultPreviewText
	}

	out, format, err := s.opts.Preview.Render(r.Context(), text)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}

	contentType := mimeForTTSFormat(format)
	if sampleRate, ok := pcmSampleRate(format); ok {
		wav, err := audio.EncodeWAVPCM16LE(out, sampleRate)
		if err != nil {
			respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
			return
		}
		out = wav
		contentType = "audio/wav"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	if f := strings.TrimSpace(format); f != "" {
		w.Header().Set("X-Audio-Format", f)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func mimeForTTSFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case strings.Contains(f, "wav"):
		return "audio/wav"
	case strings.Contains(f, "mp3"):
		return "audio/mpeg"
	case strings.Contains(f, "ogg"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// pcmSampleRate parses formats such as "pcm_16000". Raw PCM without a rate
// is assumed to be 16 kHz.
func pcmSampleRate(format string) (int, bool) {
	f := strings.ToLower(strings.TrimSpace(format))
	rest, ok := strings.CutPrefix(f, "pcm")
	if !ok {
		return 0, false
	}
	rest = strings.TrimPrefix(rest, "_")
	if sr, err := strconv.Atoi(rest); err == nil && sr > 0 {
		return sr, true
	}
	return 16000, true
}
