package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// CaptureErrorKind classifies why a recognition attempt failed.
type CaptureErrorKind string

const (
	CapturePermissionDenied   CaptureErrorKind = "permission_denied"
	CaptureRecognitionFailure CaptureErrorKind = "recognition_failure"
)

type InputEventType string

const (
	InputTranscript InputEventType = "transcript"
	InputError      InputEventType = "error"
)

// InputEvent is the single terminal outcome of one listening attempt.
type InputEvent struct {
	Attempt uint64
	Type    InputEventType
	Text    string
	Kind    CaptureErrorKind
	Detail  string
}

var ErrNotListening = errors.New("input channel is not listening")

const maxPendingChunks = 64

type pendingChunk struct {
	audio      string
	sampleRate int
	commit     bool
}

// InputChannel turns client microphone audio into one transcript per
// attempt. Each StartListening opens a fresh STT session that is released by
// Stop or by the start of the next attempt.
type InputChannel struct {
	stt       STTProvider
	sessionID string

	mu      sync.Mutex
	attempt uint64
	active  bool
	done    bool
	session STTSession
	// flushing is set while buffered chunks are written to a fresh session;
	// new chunks queue behind them to keep their order.
	flushing bool
	pending  []pendingChunk
	emit    func(InputEvent)
}

func NewInputChannel(stt STTProvider, sessionID string) *InputChannel {
	return &InputChannel{stt: stt, sessionID: sessionID}
}

// StartListening abandons any previous attempt and begins a new one. emit is
// called at most once for the attempt, with either a transcript or an error.
func (c *InputChannel) StartListening(ctx context.Context, emit func(InputEvent)) uint64 {
	c.Stop()

	c.mu.Lock()
	c.attempt++
	id := c.attempt
	c.active = true
	c.done = false
	c.emit = emit
	c.mu.Unlock()

	go c.open(ctx, id)
	return id
}

// Listening reports whether an attempt is in progress.
func (c *InputChannel) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// FeedAudio forwards a base64 PCM chunk to the current attempt. Chunks that
// arrive while the STT session is still opening are buffered.
func (c *InputChannel) FeedAudio(ctx context.Context, audioBase64 string, sampleRate int) error {
	return c.send(ctx, pendingChunk{audio: audioBase64, sampleRate: sampleRate})
}

// Commit asks the recognizer to finalize what it has heard so far.
func (c *InputChannel) Commit(ctx context.Context) error {
	return c.send(ctx, pendingChunk{commit: true})
}

func (c *InputChannel) send(ctx context.Context, chunk pendingChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNotListening
	}
	if c.session == nil || c.flushing {
		if len(c.pending) < maxPendingChunks || chunk.commit {
			c.pending = append(c.pending, chunk)
		}
		return nil
	}
	return c.session.SendAudioChunk(ctx, chunk.audio, chunk.sampleRate, chunk.commit)
}

// ReportCaptureError fails the current attempt with a client-side capture
// error code such as "not-allowed" or "no-speech".
func (c *InputChannel) ReportCaptureError(code, detail string) bool {
	c.mu.Lock()
	id := c.attempt
	c.mu.Unlock()
	if strings.TrimSpace(detail) == "" {
		detail = code
	}
	return c.finish(id, InputEvent{Type: InputError, Kind: ClassifyCaptureError(code), Detail: detail})
}

// Stop ends the current attempt and releases its STT session before
// returning. Calling Stop when idle is a no-op.
func (c *InputChannel) Stop() {
	c.mu.Lock()
	c.active = false
	sess := c.session
	c.session = nil
	c.flushing = false
	c.pending = nil
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Debug("stt session close failed", "session_id", c.sessionID, "error", err)
		}
	}
}

func (c *InputChannel) open(ctx context.Context, id uint64) {
	sess, events, err := c.stt.StartSession(ctx, c.sessionID)
	if err != nil {
		c.finish(id, InputEvent{Type: InputError, Kind: CaptureRecognitionFailure, Detail: err.Error()})
		return
	}

	c.mu.Lock()
	if c.attempt != id || !c.active {
		c.mu.Unlock()
		_ = sess.Close()
		return
	}
	c.session = sess
	c.flushing = true
	c.mu.Unlock()

	flushErr := c.flush(ctx, id, sess)
	if flushErr != nil {
		c.finish(id, InputEvent{Type: InputError, Kind: CaptureRecognitionFailure, Detail: flushErr.Error()})
	}

	for ev := range events {
		switch ev.Type {
		case STTEventCommitted:
			text := strings.TrimSpace(ev.Text)
			if text == "" {
				continue
			}
			c.finish(id, InputEvent{Type: InputTranscript, Text: text})
		case STTEventError:
			detail := ev.Detail
			if detail == "" {
				detail = ev.Code
			}
			c.finish(id, InputEvent{Type: InputError, Kind: CaptureRecognitionFailure, Detail: detail})
		}
	}
	c.finish(id, InputEvent{Type: InputError, Kind: CaptureRecognitionFailure, Detail: "recognition stream closed"})
}

// flush writes chunks buffered while sess was opening without holding c.mu,
// draining until the queue is empty.
func (c *InputChannel) flush(ctx context.Context, id uint64, sess STTSession) error {
	for {
		c.mu.Lock()
		live := c.attempt == id && c.active
		pending := c.pending
		c.pending = nil
		if !live || len(pending) == 0 {
			if live {
				c.flushing = false
			}
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		for _, chunk := range pending {
			if err := sess.SendAudioChunk(ctx, chunk.audio, chunk.sampleRate, chunk.commit); err != nil {
				c.mu.Lock()
				if c.attempt == id {
					c.flushing = false
				}
				c.mu.Unlock()
				return err
			}
		}
	}
}

// finish delivers ev if id is still the live, undecided attempt.
func (c *InputChannel) finish(id uint64, ev InputEvent) bool {
	c.mu.Lock()
	if c.attempt != id || !c.active || c.done {
		c.mu.Unlock()
		return false
	}
	c.done = true
	emit := c.emit
	c.mu.Unlock()

	ev.Attempt = id
	if emit != nil {
		emit(ev)
	}
	return true
}

// ClassifyCaptureError maps client capture error codes to failure kinds.
func ClassifyCaptureError(code string) CaptureErrorKind {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "not-allowed", "service-not-allowed", "permission_denied", "permission-denied":
		return CapturePermissionDenied
	default:
		return CaptureRecognitionFailure
	}
}
