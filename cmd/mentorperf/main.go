package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/mentorai/internal/audio"
	"github.com/ent0n29/mentorai/internal/observability"
	"github.com/ent0n29/mentorai/internal/protocol"
)

const (
	modeText  = "text"
	modeAudio = "audio"

	stageAssistantText = "send_to_assistant_text"
	stageFirstAudio    = "send_to_first_audio"
	stageTurn          = "send_to_turn_end"
)

type options struct {
	baseURL        string
	userID         string
	mode           string
	turns          int
	chunkMS        int
	realtime       float64
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	ChannelKind string `json:"channel_kind"`
}

type previewRequest struct {
	Text string `json:"text,omitempty"`
}

// wsEnvelope is the union of the server message fields the replay inspects.
type wsEnvelope struct {
	Type       string `json:"type"`
	State      string `json:"state,omitempty"`
	IsSpeaking bool   `json:"is_speaking,omitempty"`
	Action     string `json:"action,omitempty"`
	Kind       string `json:"kind,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Text       string `json:"text,omitempty"`
}

type audioClip struct {
	Text       string
	PCM16LE    []byte
	SampleRate int
}

var defaultUtterances = []string{
	"Explain quantum entanglement",
	"Teach me calculus basics",
	"How do black holes work?",
	"What are derivatives?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mentorperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "mentorperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "MentorAI base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	flag.StringVar(&cfg.mode, "mode", modeText, "turn input: text (submit_text) or audio (preview speech streamed as microphone chunks)")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&startDelayMS, "start-delay-ms", 300, "delay before first synthetic turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for each turn to finish in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	return normalizeOptions(cfg, textsRaw, startDelayMS, interTurnMS, turnTimeoutMS)
}

func normalizeOptions(cfg options, textsRaw string, startDelayMS, interTurnMS, turnTimeoutMS int) (options, error) {
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.mode = strings.ToLower(strings.TrimSpace(cfg.mode))
	if cfg.mode != modeText && cfg.mode != modeAudio {
		return options{}, fmt.Errorf("mode must be %q or %q", modeText, modeAudio)
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	cfg.startDelay = time.Duration(max(startDelayMS, 0)) * time.Millisecond
	cfg.interTurnDelay = time.Duration(max(interTurnMS, 0)) * time.Millisecond
	cfg.turnTimeout = time.Duration(max(turnTimeoutMS, 1000)) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
		return cfg, nil
	}
	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			cfg.texts = append(cfg.texts, t)
		}
	}
	if len(cfg.texts) == 0 {
		return options{}, fmt.Errorf("texts produced no non-empty utterances")
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	created, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	sessionID := created.SessionID
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("mentorperf: session=%s channel=%s mode=%s turns=%d\n", sessionID, created.ChannelKind, cfg.mode, cfg.turns)
	}

	var clips []audioClip
	if cfg.mode == modeAudio {
		clips, err = synthClips(ctx, httpClient, cfg)
		if err != nil {
			return fmt.Errorf("prepare utterance audio: %w", err)
		}
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	events := make(chan wsEnvelope, 256)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	window := observability.NewLatencyWindow(cfg.turns)
	seq := 0
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("mentorperf: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}

		var sentAt time.Time
		if cfg.mode == modeAudio {
			clip := clips[i%len(clips)]
			if err := sendControl(conn, sessionID, protocol.ActionBegin, ""); err != nil {
				return fmt.Errorf("turn %d begin: %w", i+1, err)
			}
			if err := awaitCaptureStart(events, readErrCh, cfg.turnTimeout); err != nil {
				return fmt.Errorf("turn %d await capture: %w", i+1, err)
			}
			if err := sendTurnAudio(conn, sessionID, clip, cfg.chunkMS, cfg.realtime, &seq); err != nil {
				return fmt.Errorf("turn %d send audio: %w", i+1, err)
			}
			if err := sendControl(conn, sessionID, protocol.ActionCommit, ""); err != nil {
				return fmt.Errorf("turn %d commit: %w", i+1, err)
			}
			sentAt = time.Now()
		} else {
			sentAt = time.Now()
			if err := sendControl(conn, sessionID, protocol.ActionSubmitText, text); err != nil {
				return fmt.Errorf("turn %d submit_text: %w", i+1, err)
			}
		}

		if err := awaitTurnEnd(events, readErrCh, newTurnWatcher(sentAt), window, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	_ = sendControl(conn, sessionID, protocol.ActionEnd, "")
	report, err := json.MarshalIndent(window.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(report))
	return nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (createSessionResponse, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID})
	if err != nil {
		return createSessionResponse{}, err
	}
	body, status, err := postJSON(ctx, client, cfg.baseURL+"/v1/conversation/session", payload, 1<<20)
	if err != nil {
		return createSessionResponse{}, err
	}
	if status != http.StatusCreated {
		return createSessionResponse{}, fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return createSessionResponse{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return createSessionResponse{}, fmt.Errorf("missing session_id in response")
	}
	return out, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	_, _, err := postJSON(ctx, client, baseURL+"/v1/conversation/session/"+url.PathEscape(sessionID)+"/end", nil, 1<<20)
	return err
}

func postJSON(ctx context.Context, client *http.Client, target string, payload []byte, limit int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, limit))
	if err != nil {
		return nil, 0, err
	}
	return body, res.StatusCode, nil
}

func synthClips(ctx context.Context, client *http.Client, cfg options) ([]audioClip, error) {
	cache := make(map[string]audioClip, len(cfg.texts))
	out := make([]audioClip, 0, len(cfg.texts))
	for _, text := range cfg.texts {
		if existing, ok := cache[text]; ok {
			out = append(out, existing)
			continue
		}
		clip, err := synthClip(ctx, client, cfg.baseURL, text)
		if err != nil {
			return nil, err
		}
		cache[text] = clip
		out = append(out, clip)
	}
	return out, nil
}

func synthClip(ctx context.Context, client *http.Client, baseURL, text string) (audioClip, error) {
	payload, err := json.Marshal(previewRequest{Text: text})
	if err != nil {
		return audioClip{}, err
	}
	body, status, err := postJSON(ctx, client, baseURL+"/v1/voices/preview", payload, 40<<20)
	if err != nil {
		return audioClip{}, err
	}
	if status != http.StatusOK {
		return audioClip{}, fmt.Errorf("preview %q HTTP %d: %s", text, status, strings.TrimSpace(string(body)))
	}

	pcm, sampleRate, err := audio.DecodeWAVPCM16(body)
	if errors.Is(err, audio.ErrNotWAV) {
		return audioClip{}, fmt.Errorf("preview for %q is not wav; configure a pcm_* output format", text)
	}
	if err != nil {
		return audioClip{}, fmt.Errorf("decode preview wav for %q: %w", text, err)
	}
	if len(pcm) == 0 {
		return audioClip{}, fmt.Errorf("preview wav for %q produced no PCM bytes", text)
	}
	return audioClip{Text: text, PCM16LE: pcm, SampleRate: sampleRate}, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/conversation/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		// Audio payloads are only timed, never inspected.
		select {
		case events <- env:
		default:
		}
	}
}

func sendControl(conn *websocket.Conn, sessionID, action, text string) error {
	return conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    action,
		Text:      text,
		TSMs:      time.Now().UnixMilli(),
	})
}

func sendTurnAudio(conn *websocket.Conn, sessionID string, clip audioClip, chunkMS int, realtime float64, seq *int) error {
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	bytesPerChunk := sampleRate * 2 * chunkMS / 1000
	bytesPerChunk = min(max(bytesPerChunk&^1, 2), len(clip.PCM16LE)&^1)
	if bytesPerChunk <= 0 {
		return fmt.Errorf("invalid chunk size for sample_rate=%d", sampleRate)
	}

	for off := 0; off+1 < len(clip.PCM16LE); {
		end := min(off+bytesPerChunk, len(clip.PCM16LE)&^1)
		*seq = *seq + 1
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   sessionID,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(clip.PCM16LE[off:end]),
			SampleRate:  sampleRate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		chunkDuration := time.Duration(float64(time.Duration(end-off)*time.Second/time.Duration(sampleRate*2)) / realtime)
		if chunkDuration <= 0 {
			chunkDuration = 10 * time.Millisecond
		}
		off = end
		time.Sleep(chunkDuration)
	}
	return nil
}

func awaitCaptureStart(events <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-events:
			if err := turnError(env); err != nil {
				return err
			}
			if env.Type == string(protocol.TypeCaptureControl) && env.Action == "start" {
				return nil
			}
		case err := <-readErrCh:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func awaitTurnEnd(events <-chan wsEnvelope, readErrCh <-chan error, w *turnWatcher, window *observability.LatencyWindow, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-events:
			done, err := w.observe(env, time.Now(), window)
			if err != nil || done {
				return err
			}
		case err := <-readErrCh:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s waiting for turn end", timeout)
		}
	}
}

// turnWatcher follows the server messages of one turn. The turn is over once
// assistant text has arrived and a later snapshot shows the session settled
// (idle or listening, not speaking).
type turnWatcher struct {
	sentAt   time.Time
	sawText  bool
	sawAudio bool
}

func newTurnWatcher(sentAt time.Time) *turnWatcher {
	return &turnWatcher{sentAt: sentAt}
}

func (w *turnWatcher) observe(env wsEnvelope, now time.Time, window *observability.LatencyWindow) (bool, error) {
	if err := turnError(env); err != nil {
		return false, err
	}
	switch protocol.MessageType(env.Type) {
	case protocol.TypeAssistantText:
		if !w.sawText {
			w.sawText = true
			window.Observe(stageAssistantText, now.Sub(w.sentAt))
		}
	case protocol.TypeAssistantAudio:
		if !w.sawAudio {
			w.sawAudio = true
			window.Observe(stageFirstAudio, now.Sub(w.sentAt))
		}
	case protocol.TypeSignalSnapshot:
		if w.sawText && !env.IsSpeaking && (env.State == "idle" || env.State == "listening") {
			window.Observe(stageTurn, now.Sub(w.sentAt))
			return true, nil
		}
	}
	return false, nil
}

func turnError(env wsEnvelope) error {
	switch protocol.MessageType(env.Type) {
	case protocol.TypeErrorEvent:
		return fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
	case protocol.TypeNotification:
		if env.IsError {
			return fmt.Errorf("notification kind=%s: %s", env.Kind, env.Message)
		}
	case protocol.TypeSignalSnapshot:
		if env.State == "error" {
			return fmt.Errorf("session entered error state")
		}
	}
	return nil
}
