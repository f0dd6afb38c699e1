package voice

import (
	"context"
	"errors"
	"sync"
)

type OutputEventType string

const (
	OutputStart OutputEventType = "start"
	OutputAudio OutputEventType = "audio"
	OutputEnd   OutputEventType = "end"
	OutputError OutputEventType = "error"
)

// OutputEvent reports progress of one utterance. Pitch and Volume are
// playback hints for the client.
type OutputEvent struct {
	Utterance   uint64
	Type        OutputEventType
	AudioBase64 string
	Format      string
	Pitch       float64
	Volume      float64
	Detail      string
}

// Prosody is the configured delivery of synthesized speech.
type Prosody struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

type OutputConfig struct {
	ModelID string
	Prosody Prosody
	Voices  *VoiceSelector
}

var errStreamClosed = errors.New("synthesis stream closed before completion")

// OutputChannel speaks assistant text. Only the most recent Speak call is
// live: starting a new utterance releases the previous stream first, and
// events of a superseded utterance are not delivered.
type OutputChannel struct {
	tts TTSProvider
	cfg OutputConfig

	mu        sync.Mutex
	utterance uint64
	cancel    context.CancelFunc
	stream    TTSStream
}

func NewOutputChannel(tts TTSProvider, cfg OutputConfig) *OutputChannel {
	if cfg.Prosody.Rate <= 0 {
		cfg.Prosody.Rate = 1
	}
	if cfg.Prosody.Pitch <= 0 {
		cfg.Prosody.Pitch = 1
	}
	return &OutputChannel{tts: tts, cfg: cfg}
}

// Speak starts synthesizing text and returns the utterance id carried by its
// events: start on the first audio, audio chunks, then end or error.
func (c *OutputChannel) Speak(ctx context.Context, text string, emit func(OutputEvent)) uint64 {
	c.mu.Lock()
	c.utterance++
	id := c.utterance
	prevCancel, prevStream := c.cancel, c.stream
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel, c.stream = cancel, nil
	c.mu.Unlock()

	release(prevCancel, prevStream)
	go c.run(runCtx, id, speakableText(text), emit)
	return id
}

// Stop silences the current utterance and releases its stream before
// returning. It is safe to call when nothing is playing.
func (c *OutputChannel) Stop() {
	c.mu.Lock()
	c.utterance++
	prevCancel, prevStream := c.cancel, c.stream
	c.cancel, c.stream = nil, nil
	c.mu.Unlock()

	release(prevCancel, prevStream)
}

func (c *OutputChannel) run(ctx context.Context, id uint64, text string, emit func(OutputEvent)) {
	deliver := func(ev OutputEvent) {
		if !c.current(id) {
			return
		}
		ev.Utterance = id
		emit(ev)
	}

	if text == "" {
		deliver(OutputEvent{Type: OutputStart})
		deliver(OutputEvent{Type: OutputEnd})
		return
	}

	voiceID := c.cfg.Voices.Resolve(ctx)
	stream, err := c.tts.StartStream(ctx, voiceID, c.cfg.ModelID, TTSSettings{Speed: c.cfg.Prosody.Rate})
	if err != nil {
		deliver(OutputEvent{Type: OutputError, Detail: err.Error()})
		return
	}

	c.mu.Lock()
	if c.utterance != id {
		c.mu.Unlock()
		release(nil, stream)
		return
	}
	c.stream = stream
	c.mu.Unlock()
	defer c.finish(id, stream)

	// Terminal events go out only after the stream is released.
	settle := func(ev OutputEvent) {
		c.finish(id, stream)
		deliver(ev)
	}

	if err := stream.SendText(ctx, text+" ", true); err != nil {
		settle(OutputEvent{Type: OutputError, Detail: err.Error()})
		return
	}
	if err := stream.CloseInput(ctx); err != nil {
		settle(OutputEvent{Type: OutputError, Detail: err.Error()})
		return
	}

	started := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				settle(OutputEvent{Type: OutputError, Detail: errStreamClosed.Error()})
				return
			}
			switch ev.Type {
			case TTSEventAudio:
				if !started {
					started = true
					deliver(OutputEvent{Type: OutputStart})
				}
				deliver(OutputEvent{
					Type:        OutputAudio,
					AudioBase64: ev.AudioBase64,
					Format:      ev.Format,
					Pitch:       c.cfg.Prosody.Pitch,
					Volume:      c.cfg.Prosody.Volume,
				})
			case TTSEventFinal:
				if !started {
					deliver(OutputEvent{Type: OutputStart})
				}
				settle(OutputEvent{Type: OutputEnd})
				return
			case TTSEventError:
				detail := ev.Detail
				if detail == "" {
					detail = ev.Code
				}
				settle(OutputEvent{Type: OutputError, Detail: detail})
				return
			}
		}
	}
}

func (c *OutputChannel) current(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utterance == id
}

// finish releases stream if it still belongs to utterance id.
func (c *OutputChannel) finish(id uint64, stream TTSStream) {
	c.mu.Lock()
	owned := c.utterance == id && c.stream == stream
	var cancel context.CancelFunc
	if owned {
		cancel = c.cancel
		c.cancel, c.stream = nil, nil
	}
	c.mu.Unlock()
	if owned {
		release(cancel, stream)
	}
}

func release(cancel context.CancelFunc, stream TTSStream) {
	if cancel != nil {
		cancel()
	}
	if stream == nil {
		return
	}
	_ = stream.Close()
	go func() {
		for range stream.Events() {
		}
	}()
}
