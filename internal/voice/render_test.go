package voice

import (
	"context"
	"testing"
)

func TestOutputChannelRenderWithMock(t *testing.T) {
	ch := NewOutputChannel(NewMockProvider(), OutputConfig{})

	audio, format, err := ch.Render(context.Background(), "**Hello** there, learner")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if format != "wav_16000" {
		t.Fatalf("format = %q, want wav_16000", format)
	}
	if len(audio) < 44 || string(audio[:4]) != "RIFF" {
		t.Fatalf("audio is not a wav payload (%d bytes)", len(audio))
	}
}

func TestOutputChannelRenderRejectsEmptyText(t *testing.T) {
	ch := NewOutputChannel(NewMockProvider(), OutputConfig{})
	if _, _, err := ch.Render(context.Background(), "   "); err == nil {
		t.Fatalf("Render() expected error for blank text")
	}
}
