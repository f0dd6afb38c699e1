package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Render synthesizes text in one go and returns the decoded audio and its
// format. It uses the channel's voice and prosody but does not touch the
// live utterance.
func (c *OutputChannel) Render(ctx context.Context, text string) ([]byte, string, error) {
	text = speakableText(text)
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("nothing to synthesize")
	}

	voiceID := c.cfg.Voices.Resolve(ctx)
	stream, err := c.tts.StartStream(ctx, voiceID, c.cfg.ModelID, TTSSettings{Speed: c.cfg.Prosody.Rate})
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()

	if err := stream.SendText(ctx, text+" ", true); err != nil {
		return nil, "", err
	}
	if err := stream.CloseInput(ctx); err != nil {
		return nil, "", err
	}

	var (
		buf    bytes.Buffer
		format string
	)
	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return nil, "", errStreamClosed
			}
			switch ev.Type {
			case TTSEventAudio:
				chunk, err := base64.StdEncoding.DecodeString(ev.AudioBase64)
				if err != nil {
					return nil, "", fmt.Errorf("decode audio chunk: %w", err)
				}
				buf.Write(chunk)
				if format == "" {
					format = ev.Format
				}
			case TTSEventFinal:
				return buf.Bytes(), format, nil
			case TTSEventError:
				return nil, "", fmt.Errorf("synthesis failed: %s %s", ev.Code, ev.Detail)
			}
		}
	}
}
