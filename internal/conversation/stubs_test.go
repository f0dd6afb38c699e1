package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/mentorai/internal/agent"
	"github.com/ent0n29/mentorai/internal/responder"
	"github.com/ent0n29/mentorai/internal/voice"
)

type fakeInput struct {
	mu        sync.Mutex
	attempt   uint64
	starts    int
	stops     int
	listening bool
	emit      func(voice.InputEvent)
}

func (f *fakeInput) StartListening(_ context.Context, emit func(voice.InputEvent)) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempt++
	f.starts++
	f.listening = true
	f.emit = emit
	return f.attempt
}

func (f *fakeInput) FeedAudio(context.Context, string, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.listening {
		return voice.ErrNotListening
	}
	return nil
}

func (f *fakeInput) Commit(context.Context) error { return nil }

func (f *fakeInput) ReportCaptureError(code, detail string) bool {
	f.mu.Lock()
	if !f.listening {
		f.mu.Unlock()
		return false
	}
	f.listening = false
	emit, id := f.emit, f.attempt
	f.mu.Unlock()
	emit(voice.InputEvent{Attempt: id, Type: voice.InputError, Kind: voice.ClassifyCaptureError(code), Detail: detail})
	return true
}

func (f *fakeInput) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.listening = false
}

// transcribe delivers text for attempt id regardless of whether it is current.
func (f *fakeInput) transcribe(id uint64, text string) {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	emit(voice.InputEvent{Attempt: id, Type: voice.InputTranscript, Text: text})
}

func (f *fakeInput) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// fakeOutput plays utterances instantly when auto is set; otherwise the test
// finishes them with finish or fail.
type fakeOutput struct {
	auto bool

	mu        sync.Mutex
	utterance uint64
	spoken    []string
	stops     int
	emits     map[uint64]func(voice.OutputEvent)
}

func (f *fakeOutput) Speak(_ context.Context, text string, emit func(voice.OutputEvent)) uint64 {
	f.mu.Lock()
	f.utterance++
	id := f.utterance
	f.spoken = append(f.spoken, text)
	if f.emits == nil {
		f.emits = make(map[uint64]func(voice.OutputEvent))
	}
	f.emits[id] = emit
	auto := f.auto
	f.mu.Unlock()

	if auto {
		go func() {
			emit(voice.OutputEvent{Utterance: id, Type: voice.OutputStart})
			emit(voice.OutputEvent{Utterance: id, Type: voice.OutputAudio, AudioBase64: "AAAA", Format: "pcm_16000"})
			emit(voice.OutputEvent{Utterance: id, Type: voice.OutputEnd})
		}()
	}
	return id
}

func (f *fakeOutput) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterance++
	f.stops++
}

func (f *fakeOutput) send(id uint64, ev voice.OutputEvent) {
	f.mu.Lock()
	emit := f.emits[id]
	f.mu.Unlock()
	ev.Utterance = id
	emit(ev)
}

func (f *fakeOutput) finish(id uint64) { f.send(id, voice.OutputEvent{Type: voice.OutputEnd}) }

func (f *fakeOutput) fail(id uint64, detail string) {
	f.send(id, voice.OutputEvent{Type: voice.OutputError, Detail: detail})
}

func (f *fakeOutput) snapshot() (spoken []string, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...), f.stops
}

type responderFunc func(ctx context.Context, text string) responder.Result

func (f responderFunc) GetResponse(ctx context.Context, text string) responder.Result {
	return f(ctx, text)
}

type fakeAgent struct {
	connectErr error

	mu          sync.Mutex
	emit        func(agent.Event)
	connected   bool
	sent        []string
	disconnects int
}

func (f *fakeAgent) Connect(_ context.Context, emit func(agent.Event)) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit = emit
	f.connected = true
	return nil
}

func (f *fakeAgent) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeAgent) SendAudio(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return agent.ErrNotConnected
	}
	return nil
}

func (f *fakeAgent) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return agent.ErrNotConnected
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeAgent) push(ev agent.Event) {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	emit(ev)
}

func (f *fakeAgent) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

const evSync eventKind = -1

// harness runs an orchestrator and records every update it publishes.
type harness struct {
	t    *testing.T
	orch *Orchestrator

	mu      sync.Mutex
	updates []Update
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, orch: New(cfg)}
	ch, _ := h.orch.Subscribe(512)
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		for u := range ch {
			h.mu.Lock()
			h.updates = append(h.updates, u)
			h.mu.Unlock()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.orch.Done()
		<-recorded
	})
	return h
}

// sync returns once every event queued before it has been handled.
func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.orch.command(ctx, event{kind: evSync}); err != nil {
		h.t.Fatalf("sync: %v", err)
	}
}

func (h *harness) waitState(want State) SignalSnapshot {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := h.orch.Snapshot(); snap.State == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("state = %s, want %s", h.orch.Snapshot().State, want)
	return SignalSnapshot{}
}

func (h *harness) waitUpdate(match func(Update) bool) Update {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, u := range h.recorded() {
			if match(u) {
				return u
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("expected update was not published")
	return Update{}
}

func (h *harness) recorded() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Update(nil), h.updates...)
}

func (h *harness) states() []State {
	var out []State
	for _, u := range h.recorded() {
		if u.Type == UpdateSnapshot {
			out = append(out, u.Snapshot.State)
		}
	}
	return out
}

func (h *harness) notifications() []Notification {
	var out []Notification
	for _, u := range h.recorded() {
		if u.Type == UpdateNotification {
			out = append(out, u.Notification)
		}
	}
	return out
}

func isType(t UpdateType) func(Update) bool {
	return func(u Update) bool { return u.Type == t }
}

func (f *fakeOutput) lastID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.utterance
}
