package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newElevenLabsStub(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestElevenLabsSTTSessionCommitsTranscript(t *testing.T) {
	srv := newElevenLabsStub(t, func(conn *websocket.Conn, r *http.Request) {
		if r.URL.Path != "/v1/speech-to-text/realtime" || r.Header.Get("xi-api-key") != "k" {
			return
		}
		var chunk map[string]any
		if err := conn.ReadJSON(&chunk); err != nil {
			return
		}
		if chunk["message_type"] != "input_audio_chunk" {
			return
		}
		_ = conn.WriteJSON(map[string]any{"message_type": "session_started"})
		_ = conn.WriteJSON(map[string]any{"message_type": "committed_transcript", "text": "explain calculus"})
		_, _, _ = conn.ReadMessage()
	})

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", WSBaseURL: wsURL(srv.URL)})
	sess, events, err := p.StartSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer sess.Close()
	if err := sess.SendAudioChunk(context.Background(), "AAAA", 16000, false); err != nil {
		t.Fatalf("SendAudioChunk() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != STTEventCommitted || ev.Text != "explain calculus" {
			t.Fatalf("event = %+v, want committed transcript", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transcript")
	}
}

func TestElevenLabsTTSStreamAudioThenFinal(t *testing.T) {
	srv := newElevenLabsStub(t, func(conn *websocket.Conn, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice-1/stream-input") {
			return
		}
		var init map[string]any
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		settings, _ := init["voice_settings"].(map[string]any)
		if settings["speed"] != 0.9 {
			_ = conn.WriteJSON(map[string]any{"error": "bad speed", "message_type": "invalid_request"})
			return
		}
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["text"] == "" {
				break
			}
		}
		_ = conn.WriteJSON(map[string]any{"audio": "UklGRg=="})
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	})

	p := NewElevenLabsProvider(ElevenLabsConfig{WSBaseURL: wsURL(srv.URL)})
	stream, err := p.StartStream(context.Background(), "voice-1", "", TTSSettings{Speed: 0.9})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()
	if err := stream.SendText(context.Background(), "hello ", true); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := stream.CloseInput(context.Background()); err != nil {
		t.Fatalf("CloseInput() error = %v", err)
	}

	var got []TTSEventType
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatalf("events closed early, got %v", got)
			}
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != TTSEventAudio || got[1] != TTSEventFinal {
		t.Fatalf("events = %v, want audio then final", got)
	}
}
