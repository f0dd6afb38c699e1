package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/mentorai/internal/observability"
	"github.com/ent0n29/mentorai/internal/protocol"
	"github.com/ent0n29/mentorai/internal/voice"
)

// Factory builds the orchestrator for one attached session.
type Factory func(sessionID string) (*Orchestrator, error)

// Gateway connects a client message stream to a per-session orchestrator.
type Gateway struct {
	factory Factory
	metrics *observability.Metrics
}

func NewGateway(factory Factory, metrics *observability.Metrics) *Gateway {
	return &Gateway{factory: factory, metrics: metrics}
}

// RunConnection turns inbound client messages into orchestrator commands
// and published updates into outbound messages. It returns once inbound is
// closed or ctx is done; the session is ended before the loop stops.
func (g *Gateway) RunConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error {
	if g.factory == nil {
		return fmt.Errorf("conversation factory is not configured")
	}
	orch, err := g.factory(sessionID)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	updates, unsubscribe := orch.Subscribe(256)
	defer unsubscribe()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	grp, gctx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		return orch.Run(gctx)
	})
	grp.Go(func() error {
		send(gctx, outbound, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      "session_ready",
			Detail:    string(orch.ChannelKind()),
		})
		send(gctx, outbound, snapshotMessage(orch.Snapshot()))
		g.forward(gctx, sessionID, updates, outbound)
		return nil
	})
	grp.Go(func() error {
		defer stop()
		g.consume(gctx, orch, sessionID, inbound, outbound)

		endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return orch.End(endCtx)
	})
	return grp.Wait()
}

func (g *Gateway) consume(ctx context.Context, orch *Orchestrator, sessionID string, inbound <-chan any, outbound chan<- any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if err := dispatch(ctx, orch, msg); err != nil {
				send(ctx, outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      errorCode(err),
					Source:    "orchestrator",
					Retryable: errors.Is(err, ErrBusy),
					Detail:    err.Error(),
				})
			}
		}
	}
}

func dispatch(ctx context.Context, orch *Orchestrator, msg any) error {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		err := orch.FeedAudio(ctx, m.PCM16Base64, m.SampleRate)
		// Chunks still in flight after capture stops are expected.
		if errors.Is(err, voice.ErrNotListening) || errors.Is(err, ErrNotConnected) {
			return nil
		}
		return err
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionBegin:
			return orch.Begin(ctx)
		case protocol.ActionSubmitText:
			return orch.SubmitText(ctx, m.Text)
		case protocol.ActionEnd:
			return orch.End(ctx)
		case protocol.ActionCommit:
			return orch.Commit(ctx)
		case protocol.ActionCaptureError:
			orch.ReportCaptureError(m.Code, m.Detail)
			return nil
		default:
			return fmt.Errorf("unknown action %q", m.Action)
		}
	default:
		return fmt.Errorf("unsupported message %T", msg)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyText):
		return "empty_text"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotConnected):
		return "agent_not_connected"
	case errors.Is(err, voice.ErrNotListening):
		return "not_listening"
	default:
		return "command_failed"
	}
}

func (g *Gateway) forward(ctx context.Context, sessionID string, updates <-chan Update, outbound chan<- any) {
	audioSeq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch u.Type {
			case UpdateAudio:
				audioSeq++
				msg := protocol.AssistantAudioChunk{
					Type:        protocol.TypeAssistantAudio,
					SessionID:   sessionID,
					Seq:         audioSeq,
					Format:      u.Audio.Format,
					AudioBase64: u.Audio.AudioBase64,
					Pitch:       u.Audio.Pitch,
					Volume:      u.Audio.Volume,
				}
				select {
				case outbound <- msg:
				default:
					g.metrics.ObserveOutbound(string(protocol.TypeAssistantAudio), "drop_full")
				}
			default:
				if msg, ok := messageFor(sessionID, u); ok {
					send(ctx, outbound, msg)
				}
			}
		}
	}
}

func messageFor(sessionID string, u Update) (any, bool) {
	switch u.Type {
	case UpdateSnapshot:
		return snapshotMessage(u.Snapshot), true
	case UpdateNotification:
		return protocol.Notification{
			Type:      protocol.TypeNotification,
			SessionID: sessionID,
			Kind:      string(u.Notification.Kind),
			Title:     u.Notification.Title,
			Message:   u.Notification.Message,
			IsError:   u.Notification.IsError,
		}, true
	case UpdateTranscript:
		return protocol.Transcript{
			Type:      protocol.TypeTranscript,
			SessionID: sessionID,
			Text:      u.Utterance.Text,
			Origin:    string(u.Utterance.Origin),
		}, true
	case UpdateAssistantText:
		return protocol.AssistantText{
			Type:      protocol.TypeAssistantText,
			SessionID: sessionID,
			Text:      u.Assistant.Text,
			Source:    u.Assistant.Source,
		}, true
	case UpdateCapture:
		return protocol.CaptureControl{
			Type:      protocol.TypeCaptureControl,
			SessionID: sessionID,
			Action:    string(u.Capture),
		}, true
	default:
		return nil, false
	}
}

func snapshotMessage(s SignalSnapshot) protocol.SignalSnapshot {
	msg := protocol.SignalSnapshot{
		Type:           protocol.TypeSignalSnapshot,
		SessionID:      s.SessionID,
		State:          string(s.State),
		ChannelKind:    string(s.ChannelKind),
		IsListening:    s.IsListening,
		IsSpeaking:     s.IsSpeaking,
		LastTranscript: s.LastTranscript,
		Seq:            s.Seq,
		At:             s.At,
	}
	if s.LastError != nil {
		msg.LastError = &protocol.ErrorInfo{Kind: string(s.LastError.Kind), Detail: s.LastError.Detail}
	}
	return msg
}

func send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	}
}
