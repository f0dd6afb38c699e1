package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/mentorai/internal/agent"
	"github.com/ent0n29/mentorai/internal/ledger"
	"github.com/ent0n29/mentorai/internal/observability"
	"github.com/ent0n29/mentorai/internal/policy"
	"github.com/ent0n29/mentorai/internal/responder"
	"github.com/ent0n29/mentorai/internal/voice"
)

// SpeechInput is the native capture side of a session.
type SpeechInput interface {
	StartListening(ctx context.Context, emit func(voice.InputEvent)) uint64
	FeedAudio(ctx context.Context, audioBase64 string, sampleRate int) error
	Commit(ctx context.Context) error
	ReportCaptureError(code, detail string) bool
	Stop()
}

// SpeechOutput speaks assistant text; the latest Speak supersedes earlier ones.
type SpeechOutput interface {
	Speak(ctx context.Context, text string, emit func(voice.OutputEvent)) uint64
	Stop()
}

type ResponseProvider interface {
	GetResponse(ctx context.Context, text string) responder.Result
}

// AgentLink is a hosted conversational agent that owns recognition, answers
// and synthesis for the session.
type AgentLink interface {
	Connect(ctx context.Context, emit func(agent.Event)) error
	Disconnect()
	SendAudio(ctx context.Context, audioBase64 string) error
	SendText(ctx context.Context, text string) error
}

var (
	ErrEmptyText      = errors.New("text is empty")
	ErrBusy           = errors.New("a response is already in flight")
	ErrNotConnected   = errors.New("agent link is not connected")
	ErrStopped        = errors.New("conversation loop stopped")
	ErrAlreadyRunning = errors.New("conversation loop already running")
)

type Config struct {
	SessionID      string
	CaptureTimeout time.Duration

	// Native speech sessions use Input, Output and Responder. Setting Agent
	// switches the session to the external agent channel instead.
	Input     SpeechInput
	Output    SpeechOutput
	Responder ResponseProvider
	Agent     AgentLink

	Metrics *observability.Metrics
	Ledger  *ledger.Writer
	Logger  *slog.Logger
}

type eventKind int

const (
	evBegin eventKind = iota
	evSubmit
	evEnd
	evInput
	evCaptureTimeout
	evResponse
	evOutput
	evAgentConnected
	evAgentConnectFailed
	evAgent
)

type event struct {
	kind      eventKind
	text      string
	token     uint64
	requestID string
	input     voice.InputEvent
	output    voice.OutputEvent
	agent     agent.Event
	result    responder.Result
	err       error
	reply     chan error
}

// Orchestrator owns one session's state machine. Commands and provider
// callbacks are serialized through a single loop goroutine; callbacks carry
// the attempt, utterance, request or link token they belong to and are
// dropped once that token is no longer current.
type Orchestrator struct {
	cfg     Config
	log     *slog.Logger
	events  chan event
	done    chan struct{}
	running atomic.Bool
	last    atomic.Pointer[SignalSnapshot]
	out     *fanout

	// Loop-owned state.
	ctx            context.Context
	sess           Session
	seq            uint64
	captureGen     uint64
	captureAttempt uint64
	captureTimer   *time.Timer
	captureStarted time.Time
	fetchCancel    context.CancelFunc
	submittedAt    time.Time
	utterance      uint64
	respondedAt    time.Time
	firstAudio     bool
	agentGen       uint64
	agentUp        bool
	agentDialing   bool
	dialStarted    time.Time
}

func New(cfg Config) *Orchestrator {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	kind := ChannelNativeSpeech
	if cfg.Agent != nil {
		kind = ChannelExternalAgent
	}
	o := &Orchestrator{
		cfg:    cfg,
		log:    logger.With("session_id", cfg.SessionID),
		events: make(chan event, 128),
		done:   make(chan struct{}),
		out:    newFanout(cfg.Metrics),
		sess:   Session{ID: cfg.SessionID, State: StateIdle, ChannelKind: kind},
	}
	snap := o.snapshot()
	o.last.Store(&snap)
	return o
}

func (o *Orchestrator) SessionID() string { return o.cfg.SessionID }

func (o *Orchestrator) ChannelKind() ChannelKind { return o.sess.ChannelKind }

// Snapshot returns the most recently published signals.
func (o *Orchestrator) Snapshot() SignalSnapshot {
	return *o.last.Load()
}

// Subscribe registers for updates. The channel is closed by cancel or when
// the loop stops.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Update, func()) {
	return o.out.subscribe(buffer)
}

// Done is closed after Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run processes events until ctx is canceled. Resources held by the session
// are released before it returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	o.ctx = ctx
	defer close(o.done)
	defer o.out.close()

	for {
		select {
		case <-ctx.Done():
			o.release()
			return nil
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// Begin starts listening, or connects the agent link. It is a no-op unless
// the session is idle.
func (o *Orchestrator) Begin(ctx context.Context) error {
	return o.command(ctx, event{kind: evBegin})
}

// SubmitText sends typed text through the same pipeline as a capture
// transcript. Speaking output is interrupted first.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	return o.command(ctx, event{kind: evSubmit, text: text})
}

// End returns the session to idle from any state and releases capture,
// synthesis, pending responses and the agent link. It never fails.
func (o *Orchestrator) End(ctx context.Context) error {
	if err := o.command(ctx, event{kind: evEnd}); err != nil && !errors.Is(err, ErrStopped) {
		return err
	}
	return nil
}

// FeedAudio forwards one client microphone chunk to whichever side is
// capturing.
func (o *Orchestrator) FeedAudio(ctx context.Context, audioBase64 string, sampleRate int) error {
	if o.cfg.Agent != nil {
		if err := o.cfg.Agent.SendAudio(ctx, audioBase64); err != nil {
			if errors.Is(err, agent.ErrNotConnected) {
				return ErrNotConnected
			}
			return err
		}
		return nil
	}
	if o.cfg.Input == nil {
		return voice.ErrNotListening
	}
	return o.cfg.Input.FeedAudio(ctx, audioBase64, sampleRate)
}

// Commit marks the end of a spoken utterance.
func (o *Orchestrator) Commit(ctx context.Context) error {
	if o.cfg.Agent != nil || o.cfg.Input == nil {
		return voice.ErrNotListening
	}
	return o.cfg.Input.Commit(ctx)
}

// ReportCaptureError forwards a client-side capture failure, such as a
// denied microphone, to the current listening attempt.
func (o *Orchestrator) ReportCaptureError(code, detail string) bool {
	if o.cfg.Input == nil {
		return false
	}
	return o.cfg.Input.ReportCaptureError(code, detail)
}

func (o *Orchestrator) command(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	select {
	case o.events <- ev:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.reply:
		return err
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev.kind {
	case evBegin:
		ev.reply <- o.begin()
	case evSubmit:
		ev.reply <- o.submit(ev.text)
	case evEnd:
		o.end()
		ev.reply <- nil
	case evInput:
		if ev.input.Attempt != o.captureAttempt || o.sess.State != StateListening {
			return
		}
		o.onInput(ev.input)
	case evCaptureTimeout:
		if ev.token != o.captureGen || o.sess.State != StateListening {
			return
		}
		o.log.Info("capture timed out", "timeout", o.cfg.CaptureTimeout)
		o.stopCapture()
		o.move(trCaptureTimeout)
	case evResponse:
		if ev.requestID == "" || ev.requestID != o.sess.PendingRequestID {
			return
		}
		o.onResponse(ev)
	case evOutput:
		if ev.output.Utterance != o.utterance || o.sess.State != StateSpeaking {
			return
		}
		o.onOutput(ev.output)
	case evAgentConnected:
		o.agentDialing = false
		if ev.token != o.agentGen || o.sess.State != StateConnecting {
			o.cfg.Agent.Disconnect()
			return
		}
		o.onAgentConnected()
	case evAgentConnectFailed:
		o.agentDialing = false
		if ev.token != o.agentGen {
			return
		}
		o.cfg.Metrics.ObserveProviderError("agent", "connect")
		o.log.Warn("agent connect failed", "error", ev.err)
		o.fail(ErrConnectionFailure, ev.err.Error(), trConnectFailed)
	case evAgent:
		if ev.token != o.agentGen {
			return
		}
		o.onAgentEvent(ev.agent)
	default:
		if ev.reply != nil {
			ev.reply <- nil
		}
	}
}

func (o *Orchestrator) begin() error {
	if o.sess.State != StateIdle {
		return nil
	}
	if o.cfg.Agent != nil {
		return o.beginAgent()
	}
	if o.cfg.Input == nil {
		return fmt.Errorf("speech input is not configured")
	}
	o.sess.LastError = nil
	o.move(trBegin)

	o.captureGen++
	gen := o.captureGen
	o.captureStarted = time.Now()
	o.captureAttempt = o.cfg.Input.StartListening(o.ctx, func(ev voice.InputEvent) {
		o.post(event{kind: evInput, input: ev})
	})
	o.captureTimer = time.AfterFunc(o.cfg.CaptureTimeout, func() {
		o.post(event{kind: evCaptureTimeout, token: gen})
	})
	o.out.publish(Update{Type: UpdateCapture, Capture: CaptureStart})
	return nil
}

func (o *Orchestrator) onInput(ev voice.InputEvent) {
	o.stopCapture()
	switch ev.Type {
	case voice.InputTranscript:
		o.cfg.Metrics.ObserveStage(observability.StageCapture, time.Since(o.captureStarted))
		o.accept(Utterance{Text: ev.Text, CapturedAt: time.Now().UTC(), Origin: OriginCapture}, trTranscript)
	case voice.InputError:
		kind := ErrRecognitionFailure
		if ev.Kind == voice.CapturePermissionDenied {
			kind = ErrPermissionDenied
		}
		o.cfg.Metrics.ObserveProviderError("stt", string(ev.Kind))
		o.log.Warn("capture failed", "kind", ev.Kind, "detail", ev.Detail)
		o.fail(kind, ev.Detail, trCaptureError)
	}
}

func (o *Orchestrator) submit(raw string) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ErrEmptyText
	}
	if o.cfg.Agent != nil {
		return o.submitToAgent(text)
	}
	switch o.sess.State {
	case StateTranscribing, StateAwaitingResponse:
		return ErrBusy
	case StateListening:
		o.stopCapture()
	case StateSpeaking:
		o.stopSpeaking()
	}
	o.sess.LastError = nil
	o.accept(Utterance{Text: text, CapturedAt: time.Now().UTC(), Origin: OriginTyped}, trSubmit)
	return nil
}

// accept records u as the current transcript and dispatches it for a response.
func (o *Orchestrator) accept(u Utterance, t trigger) {
	o.sess.LastTranscript = u.Text
	o.log.Info("utterance accepted", "origin", u.Origin, "text", policy.LogSafe(u.Text, 80))
	o.out.publish(Update{Type: UpdateTranscript, Utterance: u})
	if !o.move(t) {
		return
	}

	id := uuid.NewString()
	o.sess.PendingRequestID = id
	o.move(trDispatch)

	ctx, cancel := context.WithCancel(o.ctx)
	o.fetchCancel = cancel
	o.submittedAt = time.Now()
	go func() {
		res, err := o.fetch(ctx, u.Text)
		o.post(event{kind: evResponse, requestID: id, result: res, err: err})
	}()
}

func (o *Orchestrator) fetch(ctx context.Context, text string) (res responder.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("response provider panic: %v", r)
		}
	}()
	if o.cfg.Responder == nil {
		return responder.Result{}, fmt.Errorf("response provider is not configured")
	}
	res = o.cfg.Responder.GetResponse(ctx, text)
	if strings.TrimSpace(res.Text) == "" {
		return res, fmt.Errorf("empty response")
	}
	return res, nil
}

func (o *Orchestrator) onResponse(ev event) {
	if o.fetchCancel != nil {
		o.fetchCancel()
		o.fetchCancel = nil
	}
	o.sess.PendingRequestID = ""
	if ev.err != nil {
		o.log.Warn("response failed", "error", ev.err)
		o.fail(ErrProcessing, ev.err.Error(), trResponseFailed)
		return
	}

	source := string(ev.result.Source)
	o.cfg.Metrics.ObserveResponse(source, time.Since(o.submittedAt))
	o.cfg.Ledger.Append(ledger.Entry{SessionID: o.sess.ID, Kind: ledger.KindResponse, Detail: source})
	o.out.publish(Update{Type: UpdateAssistantText, Assistant: AssistantText{Text: ev.result.Text, Source: source}})
	if !o.move(trResponseReady) {
		return
	}
	if o.cfg.Output == nil {
		o.fail(ErrSynthesisFailure, "speech output is not configured", trSynthesisError)
		return
	}
	o.respondedAt = time.Now()
	o.firstAudio = false
	o.utterance = o.cfg.Output.Speak(o.ctx, ev.result.Text, func(ev voice.OutputEvent) {
		o.post(event{kind: evOutput, output: ev})
	})
}

func (o *Orchestrator) onOutput(ev voice.OutputEvent) {
	switch ev.Type {
	case voice.OutputAudio:
		if !o.firstAudio {
			o.firstAudio = true
			o.cfg.Metrics.ObserveFirstAudioLatency(time.Since(o.respondedAt))
		}
		o.out.publish(Update{Type: UpdateAudio, Audio: AudioChunk{
			AudioBase64: ev.AudioBase64,
			Format:      ev.Format,
			Pitch:       ev.Pitch,
			Volume:      ev.Volume,
		}})
	case voice.OutputEnd:
		o.utterance = 0
		o.move(trSynthesisEnd)
	case voice.OutputError:
		o.stopSpeaking()
		o.cfg.Metrics.ObserveProviderError("tts", "synthesis")
		o.log.Warn("synthesis failed", "detail", ev.Detail)
		o.fail(ErrSynthesisFailure, ev.Detail, trSynthesisError)
	}
}

func (o *Orchestrator) beginAgent() error {
	if o.agentDialing {
		return ErrBusy
	}
	o.sess.LastError = nil
	o.move(trBeginAgent)

	o.agentGen++
	gen := o.agentGen
	o.agentDialing = true
	o.dialStarted = time.Now()

	// Link events wait until the connect result is queued so the loop sees
	// them in order.
	ready := make(chan struct{})
	emit := func(ev agent.Event) {
		select {
		case <-ready:
		case <-o.done:
			return
		}
		o.post(event{kind: evAgent, token: gen, agent: ev})
	}
	ctx := o.ctx
	go func() {
		defer close(ready)
		if err := o.cfg.Agent.Connect(ctx, emit); err != nil {
			o.post(event{kind: evAgentConnectFailed, token: gen, err: err})
			return
		}
		o.post(event{kind: evAgentConnected, token: gen})
	}()
	return nil
}

func (o *Orchestrator) onAgentConnected() {
	o.agentUp = true
	o.cfg.Metrics.ObserveStage(observability.StageAgentConnect, time.Since(o.dialStarted))
	o.log.Info("agent connected")
	o.move(trConnected)
	o.notify(NotifyAgentConnected)
	o.out.publish(Update{Type: UpdateCapture, Capture: CaptureStart})
}

func (o *Orchestrator) submitToAgent(text string) error {
	if !o.agentUp {
		return ErrNotConnected
	}
	if err := o.cfg.Agent.SendText(o.ctx, text); err != nil {
		if errors.Is(err, agent.ErrNotConnected) {
			return ErrNotConnected
		}
		return err
	}
	o.sess.LastTranscript = text
	o.out.publish(Update{Type: UpdateTranscript, Utterance: Utterance{Text: text, CapturedAt: time.Now().UTC(), Origin: OriginTyped}})
	o.publishSnapshot()
	return nil
}

func (o *Orchestrator) onAgentEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventTranscript:
		o.sess.LastTranscript = ev.Text
		o.out.publish(Update{Type: UpdateTranscript, Utterance: Utterance{Text: ev.Text, CapturedAt: time.Now().UTC(), Origin: OriginAgent}})
		o.publishSnapshot()
	case agent.EventResponse:
		o.cfg.Metrics.ObserveResponseSource("agent")
		o.out.publish(Update{Type: UpdateAssistantText, Assistant: AssistantText{Text: ev.Text, Source: "agent"}})
	case agent.EventAudio:
		o.out.publish(Update{Type: UpdateAudio, Audio: AudioChunk{AudioBase64: ev.AudioBase64, Format: ev.Format}})
	case agent.EventSpeaking:
		if ev.Speaking {
			o.move(trAgentSpeaking)
		} else {
			o.move(trAgentQuiet)
		}
	case agent.EventDisconnected:
		o.agentUp = false
		o.agentGen++
		o.log.Info("agent disconnected", "error", ev.Err)
		o.out.publish(Update{Type: UpdateCapture, Capture: CaptureStop})
		o.move(trDisconnected)
		o.notify(NotifyAgentDisconnected)
	}
}

func (o *Orchestrator) end() {
	wasUp := o.agentUp
	o.release()
	o.move(trEnd)
	if wasUp {
		o.notify(NotifyAgentDisconnected)
	}
}

// release stops everything the session holds. Safe to call in any state.
func (o *Orchestrator) release() {
	if o.sess.State == StateListening && o.cfg.Agent == nil {
		o.stopCapture()
	}
	if o.fetchCancel != nil {
		o.fetchCancel()
		o.fetchCancel = nil
	}
	o.sess.PendingRequestID = ""
	o.stopSpeaking()
	if o.cfg.Agent != nil {
		o.agentGen++
		if o.agentUp || o.agentDialing {
			o.cfg.Agent.Disconnect()
			o.out.publish(Update{Type: UpdateCapture, Capture: CaptureStop})
		}
		o.agentUp = false
	}
}

func (o *Orchestrator) stopCapture() {
	if o.captureTimer != nil {
		o.captureTimer.Stop()
		o.captureTimer = nil
	}
	o.captureGen++
	o.captureAttempt = 0
	if o.cfg.Input != nil {
		o.cfg.Input.Stop()
	}
	o.out.publish(Update{Type: UpdateCapture, Capture: CaptureStop})
}

func (o *Orchestrator) stopSpeaking() {
	o.utterance = 0
	if o.cfg.Output != nil {
		o.cfg.Output.Stop()
	}
}

// fail records the error, surfaces it once, and returns the session to idle.
func (o *Orchestrator) fail(kind ErrorKind, detail string, t trigger) {
	o.sess.LastError = &Error{Kind: kind, Detail: detail}
	if !o.move(t) {
		return
	}
	o.notify(NotificationKind(kind))
	o.move(trErrorReported)
}

func (o *Orchestrator) notify(kind NotificationKind) {
	n := notificationFor(kind)
	o.cfg.Metrics.ObserveNotification(string(n.Kind))
	o.cfg.Ledger.Append(ledger.Entry{SessionID: o.sess.ID, Kind: ledger.KindNotification, Detail: string(n.Kind)})
	o.out.publish(Update{Type: UpdateNotification, Notification: n})
}

// move applies t. Triggers that are not valid in the current state are
// ignored and reported as false.
func (o *Orchestrator) move(t trigger) bool {
	from := o.sess.State
	to, ok := transition(from, t)
	if !ok {
		o.log.Debug("ignored trigger", "state", from, "trigger", t)
		return false
	}
	if from == to {
		return true
	}
	o.sess.State = to
	o.cfg.Metrics.ObserveTransition(string(from), string(to))
	o.cfg.Ledger.Append(ledger.Entry{SessionID: o.sess.ID, Kind: ledger.KindTransition, From: string(from), To: string(to), Detail: string(t)})
	o.publishSnapshot()
	return true
}

func (o *Orchestrator) publishSnapshot() {
	snap := o.snapshot()
	o.last.Store(&snap)
	o.out.publish(Update{Type: UpdateSnapshot, Snapshot: snap})
}

func (o *Orchestrator) snapshot() SignalSnapshot {
	o.seq++
	var lastErr *Error
	if o.sess.LastError != nil {
		e := *o.sess.LastError
		lastErr = &e
	}
	return SignalSnapshot{
		SessionID:      o.sess.ID,
		State:          o.sess.State,
		ChannelKind:    o.sess.ChannelKind,
		IsListening:    o.sess.State == StateListening,
		IsSpeaking:     o.sess.State == StateSpeaking,
		LastTranscript: o.sess.LastTranscript,
		LastError:      lastErr,
		Seq:            o.seq,
		At:             time.Now().UTC(),
	}
}
