package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type EventType string

const (
	EventTranscript   EventType = "transcript"
	EventResponse     EventType = "agent_response"
	EventAudio        EventType = "audio"
	EventSpeaking     EventType = "speaking"
	EventDisconnected EventType = "disconnected"
)

// Event is pushed by the channel while a conversation link is up.
type Event struct {
	Type        EventType
	Text        string
	AudioBase64 string
	Format      string
	Speaking    bool
	Err         error
}

var (
	ErrNotConnected     = errors.New("agent channel is not connected")
	ErrAlreadyConnected = errors.New("agent channel is already connected")
	ErrConnectAborted   = errors.New("agent connect aborted")
)

type Config struct {
	AgentID        string
	APIKey         string
	WSBaseURL      string
	ConnectTimeout time.Duration
	// QuietAfter is how long after the expected end of the last audio chunk
	// the agent is considered to have stopped speaking.
	QuietAfter time.Duration
	Dialer     *websocket.Dialer
}

// ElevenLabsChannel is one link to a hosted ElevenLabs conversational agent.
// The agent runs its own recognition, reasoning and synthesis; the channel
// relays audio and text and reports when the agent is speaking.
type ElevenLabsChannel struct {
	cfg Config

	mu             sync.Mutex
	conn           *websocket.Conn
	dialing        *websocket.Conn
	disconnects    uint64
	closing        bool
	speaking       bool
	playbackEnd    time.Time
	quiet          *time.Timer
	conversationID string
	outputFormat   string
	emit           func(Event)

	writeMu sync.Mutex
	emitMu  sync.Mutex
}

func NewElevenLabsChannel(cfg Config) *ElevenLabsChannel {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.QuietAfter <= 0 {
		cfg.QuietAfter = 700 * time.Millisecond
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &ElevenLabsChannel{cfg: cfg}
}

type inbound struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
		OutputFormat   string `json:"agent_output_audio_format"`
	} `json:"conversation_initiation_metadata_event"`
	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event"`
	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event"`
	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event"`
	Ping *struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event"`
}

// Connect dials the agent and returns once the conversation handshake has
// completed. Events are delivered to emit until Disconnect or a remote close.
func (c *ElevenLabsChannel) Connect(ctx context.Context, emit func(Event)) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	disconnects := c.disconnects
	c.mu.Unlock()

	if strings.TrimSpace(c.cfg.AgentID) == "" {
		return fmt.Errorf("agent id is required")
	}
	u, err := url.Parse(strings.TrimRight(c.cfg.WSBaseURL, "/") + "/v1/convai/conversation")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("agent_id", c.cfg.AgentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		headers.Set("xi-api-key", key)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := c.cfg.Dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial agent websocket: %w", err)
	}

	// A Disconnect or cancellation during the handshake closes the socket
	// and wins over a late metadata event.
	c.mu.Lock()
	if c.disconnects != disconnects {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrConnectAborted
	}
	c.dialing = conn
	c.mu.Unlock()
	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopWatch()
	aborted := func() bool {
		return c.disconnects != disconnects || ctx.Err() != nil
	}

	if err := conn.WriteJSON(map[string]any{"type": "conversation_initiation_client_data"}); err != nil {
		_ = conn.Close()
		c.mu.Lock()
		c.dialing = nil
		c.mu.Unlock()
		return fmt.Errorf("send initiation: %w", err)
	}

	deadline, _ := dialCtx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	var meta inbound
	for meta.Type != "conversation_initiation_metadata" {
		meta = inbound{}
		if err := conn.ReadJSON(&meta); err != nil {
			_ = conn.Close()
			c.mu.Lock()
			c.dialing = nil
			wasAborted := aborted()
			c.mu.Unlock()
			if wasAborted {
				return ErrConnectAborted
			}
			return fmt.Errorf("await conversation metadata: %w", err)
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.dialing = nil
	if aborted() {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrConnectAborted
	}
	c.conn = conn
	c.closing = false
	c.speaking = false
	c.emit = emit
	c.outputFormat = "pcm_16000"
	if meta.Metadata != nil {
		c.conversationID = meta.Metadata.ConversationID
		if f := strings.TrimSpace(meta.Metadata.OutputFormat); f != "" {
			c.outputFormat = f
		}
	}
	conversationID := c.conversationID
	c.mu.Unlock()

	slog.Info("agent conversation started", "agent_id", c.cfg.AgentID, "conversation_id", conversationID)
	go c.readLoop(conn)
	return nil
}

// Disconnect closes the link. It is idempotent and emits no events.
func (c *ElevenLabsChannel) Disconnect() {
	c.mu.Lock()
	conn, dialing := c.conn, c.dialing
	c.conn, c.dialing = nil, nil
	c.disconnects++
	c.closing = true
	c.speaking = false
	c.playbackEnd = time.Time{}
	if c.quiet != nil {
		c.quiet.Stop()
		c.quiet = nil
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if dialing != nil {
		_ = dialing.Close()
	}
}

// Connected reports whether the link is up.
func (c *ElevenLabsChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendAudio relays a base64 PCM microphone chunk to the agent.
func (c *ElevenLabsChannel) SendAudio(_ context.Context, audioBase64 string) error {
	return c.write(map[string]any{"user_audio_chunk": audioBase64})
}

// SendText relays typed user text to the agent.
func (c *ElevenLabsChannel) SendText(_ context.Context, text string) error {
	return c.write(map[string]any{"type": "user_message", "text": text})
}

func (c *ElevenLabsChannel) write(payload map[string]any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

func (c *ElevenLabsChannel) readLoop(conn *websocket.Conn) {
	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handle(conn, msg)
	}

	c.mu.Lock()
	local := c.closing || c.conn != conn
	if !local {
		c.conn = nil
		c.speaking = false
		if c.quiet != nil {
			c.quiet.Stop()
			c.quiet = nil
		}
	}
	c.mu.Unlock()
	_ = conn.Close()
	if !local {
		slog.Warn("agent conversation closed by remote", "agent_id", c.cfg.AgentID, "error", readErr)
		c.deliver(conn, Event{Type: EventDisconnected, Err: readErr}, true)
	}
}

func (c *ElevenLabsChannel) handle(conn *websocket.Conn, msg inbound) {
	switch msg.Type {
	case "user_transcript":
		if msg.UserTranscript != nil && strings.TrimSpace(msg.UserTranscript.Text) != "" {
			c.deliver(conn, Event{Type: EventTranscript, Text: strings.TrimSpace(msg.UserTranscript.Text)}, false)
		}
	case "agent_response":
		if msg.AgentResponse != nil {
			c.deliver(conn, Event{Type: EventResponse, Text: msg.AgentResponse.Text}, false)
		}
	case "audio":
		if msg.Audio == nil || msg.Audio.AudioBase64 == "" {
			return
		}
		c.onAudio(conn, msg.Audio.AudioBase64)
	case "interruption":
		c.setSpeaking(conn, false)
	case "ping":
		if msg.Ping == nil {
			return
		}
		if err := c.write(map[string]any{"type": "pong", "event_id": msg.Ping.EventID}); err != nil {
			slog.Debug("agent pong failed", "error", err)
		}
	}
}

func (c *ElevenLabsChannel) onAudio(conn *websocket.Conn, audioBase64 string) {
	c.mu.Lock()
	format := c.outputFormat
	now := time.Now()
	if c.playbackEnd.Before(now) {
		c.playbackEnd = now
	}
	c.playbackEnd = c.playbackEnd.Add(pcmDuration(audioBase64, format))
	wait := c.playbackEnd.Sub(now) + c.cfg.QuietAfter
	if c.quiet == nil {
		c.quiet = time.AfterFunc(wait, func() { c.setSpeaking(conn, false) })
	} else {
		c.quiet.Reset(wait)
	}
	c.mu.Unlock()

	c.setSpeaking(conn, true)
	c.deliver(conn, Event{Type: EventAudio, AudioBase64: audioBase64, Format: format}, false)
}

func (c *ElevenLabsChannel) setSpeaking(conn *websocket.Conn, speaking bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.conn != conn || c.speaking == speaking {
		c.mu.Unlock()
		return
	}
	c.speaking = speaking
	if !speaking {
		c.playbackEnd = time.Time{}
		if c.quiet != nil {
			c.quiet.Stop()
		}
	}
	emit := c.emit
	c.mu.Unlock()

	if emit != nil {
		emit(Event{Type: EventSpeaking, Speaking: speaking})
	}
}

// deliver emits ev while conn is still the live link. Disconnect
// notifications are delivered after the link has been cleared.
func (c *ElevenLabsChannel) deliver(conn *websocket.Conn, ev Event, afterClose bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	live := c.conn == conn
	emit := c.emit
	c.mu.Unlock()
	if (!live && !afterClose) || emit == nil {
		return
	}
	emit(ev)
}

// pcmDuration estimates the playback length of a base64 pcm_<rate> chunk.
func pcmDuration(audioBase64, format string) time.Duration {
	rate := 16000
	if f := strings.ToLower(format); strings.HasPrefix(f, "pcm_") {
		if n, err := strconv.Atoi(strings.TrimPrefix(f, "pcm_")); err == nil && n > 0 {
			rate = n
		}
	} else {
		return 0
	}
	samples := base64.StdEncoding.DecodedLen(len(audioBase64)) / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
