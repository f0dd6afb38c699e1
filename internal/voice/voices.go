package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SelectVoice returns the first voice whose name mentions a preferred vendor
// or whose locale starts with the preferred locale. It returns "" when
// nothing qualifies.
func SelectVoice(voices []Voice, vendors []string, locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	for _, v := range voices {
		name := strings.ToLower(v.Name)
		for _, vendor := range vendors {
			if vendor = strings.ToLower(strings.TrimSpace(vendor)); vendor != "" && strings.Contains(name, vendor) {
				return v.ID
			}
		}
		if locale != "" && strings.HasPrefix(strings.ToLower(v.Locale), locale) {
			return v.ID
		}
	}
	return ""
}

// VoiceSelector resolves the synthesis voice once and caches it. A
// configured voice that the catalog lists always wins over the heuristic.
type VoiceSelector struct {
	catalog    VoiceCatalog
	configured string
	vendors    []string
	locale     string

	mu       sync.Mutex
	resolved string
}

func NewVoiceSelector(catalog VoiceCatalog, configured string, vendors []string, locale string) *VoiceSelector {
	return &VoiceSelector{
		catalog:    catalog,
		configured: strings.TrimSpace(configured),
		vendors:    vendors,
		locale:     locale,
	}
}

// Resolve returns the cached voice, consulting the catalog on first use.
// Catalog failures fall back to the configured voice without caching, so a
// later call can retry.
func (s *VoiceSelector) Resolve(ctx context.Context) string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved != "" {
		return s.resolved
	}
	if s.catalog == nil {
		s.resolved = s.configured
		return s.resolved
	}

	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	voices, err := s.catalog.ListVoices(listCtx)
	if err != nil {
		slog.Warn("voice catalog unavailable, using configured voice", "voice_id", s.configured, "error", err)
		return s.configured
	}

	pick := ""
	for _, v := range voices {
		if v.ID == s.configured {
			pick = v.ID
			break
		}
	}
	if pick == "" {
		pick = SelectVoice(voices, s.vendors, s.locale)
	}
	if pick == "" {
		pick = s.configured
	}
	s.resolved = pick
	slog.Info("synthesis voice selected", "voice_id", pick)
	return pick
}
