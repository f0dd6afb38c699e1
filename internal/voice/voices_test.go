package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSelectVoicePrefersVendorOrLocale(t *testing.T) {
	voices := []Voice{
		{ID: "a", Name: "Amelie", Locale: "fr-FR"},
		{ID: "b", Name: "Daniel", Locale: "en-GB"},
		{ID: "c", Name: "Google US English", Locale: "en-US"},
	}
	if got := SelectVoice(voices, []string{"Google", "Microsoft"}, "en"); got != "b" {
		t.Fatalf("SelectVoice() = %q, want first qualifying voice b", got)
	}
	if got := SelectVoice(voices, []string{"google"}, ""); got != "c" {
		t.Fatalf("SelectVoice() vendor only = %q, want c", got)
	}
	if got := SelectVoice(voices[:1], []string{"Google"}, "en"); got != "" {
		t.Fatalf("SelectVoice() = %q, want no match", got)
	}
}

type countingCatalog struct {
	calls  int
	voices []Voice
	err    error
}

func (c *countingCatalog) ListVoices(context.Context) ([]Voice, error) {
	c.calls++
	return c.voices, c.err
}

func TestVoiceSelectorKeepsConfiguredVoiceWhenListed(t *testing.T) {
	catalog := &countingCatalog{voices: []Voice{
		{ID: "google", Name: "Google US English", Locale: "en-US"},
		{ID: "configured", Name: "Jessica", Locale: "en-US"},
	}}
	s := NewVoiceSelector(catalog, "configured", []string{"Google"}, "en")
	if got := s.Resolve(context.Background()); got != "configured" {
		t.Fatalf("Resolve() = %q, want configured", got)
	}
	_ = s.Resolve(context.Background())
	if catalog.calls != 1 {
		t.Fatalf("catalog calls = %d, want cached after first resolve", catalog.calls)
	}
}

func TestVoiceSelectorFallsBackWithoutCachingFailures(t *testing.T) {
	catalog := &countingCatalog{err: errors.New("unauthorized")}
	s := NewVoiceSelector(catalog, "configured", nil, "en")
	if got := s.Resolve(context.Background()); got != "configured" {
		t.Fatalf("Resolve() = %q, want configured fallback", got)
	}
	catalog.err = nil
	catalog.voices = []Voice{{ID: "en1", Name: "Ann", Locale: "en-US"}}
	if got := s.Resolve(context.Background()); got != "en1" {
		t.Fatalf("Resolve() after recovery = %q, want en1", got)
	}
	if catalog.calls != 2 {
		t.Fatalf("catalog calls = %d, want 2", catalog.calls)
	}
}

func TestElevenLabsListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Jessica","labels":{"language":"en"}},
			{"voice_id":"v2","name":"Lea","verified_languages":[{"language":"fr","locale":"fr-FR"}]},
			{"voice_id":"","name":"broken"}
		]}`))
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "secret", APIBaseURL: srv.URL})
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices() error = %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("voices = %+v, want 2 entries", voices)
	}
	if voices[0].Locale != "en" || voices[1].Locale != "fr-FR" {
		t.Fatalf("locales = %q/%q, want en/fr-FR", voices[0].Locale, voices[1].Locale)
	}

	bad := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "wrong", APIBaseURL: srv.URL})
	if _, err := bad.ListVoices(context.Background()); err == nil {
		t.Fatalf("ListVoices() expected error on 401")
	}
}
