package conversation

import (
	"sync"
	"time"

	"github.com/ent0n29/mentorai/internal/observability"
)

type UpdateType string

const (
	UpdateSnapshot      UpdateType = "signal_snapshot"
	UpdateNotification  UpdateType = "notification"
	UpdateTranscript    UpdateType = "transcript"
	UpdateAssistantText UpdateType = "assistant_text"
	UpdateAudio         UpdateType = "assistant_audio"
	UpdateCapture       UpdateType = "capture_control"
)

type CaptureAction string

const (
	CaptureStart CaptureAction = "start"
	CaptureStop  CaptureAction = "stop"
)

// AssistantText is the answer text shown alongside synthesized audio.
type AssistantText struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// AudioChunk is one piece of assistant audio for client playback.
type AudioChunk struct {
	AudioBase64 string  `json:"audio_base64"`
	Format      string  `json:"format"`
	Pitch       float64 `json:"pitch,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
}

// Update is one item pushed to subscribers; Type selects the populated field.
type Update struct {
	Type         UpdateType
	Snapshot     SignalSnapshot
	Notification Notification
	Utterance    Utterance
	Assistant    AssistantText
	Audio        AudioChunk
	Capture      CaptureAction
}

const criticalSendTimeout = 600 * time.Millisecond

// fanout delivers updates to subscriber channels. Audio is best effort;
// everything else waits briefly for a slow subscriber before dropping.
type fanout struct {
	metrics *observability.Metrics

	mu     sync.Mutex
	next   int
	subs   map[int]chan Update
	closed bool
}

func newFanout(metrics *observability.Metrics) *fanout {
	return &fanout{metrics: metrics, subs: make(map[int]chan Update)}
}

func (f *fanout) subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

func (f *fanout) publish(u Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		if u.Type == UpdateAudio {
			select {
			case ch <- u:
				f.metrics.ObserveOutbound(string(u.Type), "delivered")
			default:
				f.metrics.ObserveOutbound(string(u.Type), "drop_full")
			}
			continue
		}
		timer := time.NewTimer(criticalSendTimeout)
		select {
		case ch <- u:
			f.metrics.ObserveOutbound(string(u.Type), "delivered")
		case <-timer.C:
			f.metrics.ObserveOutbound(string(u.Type), "timeout")
		}
		timer.Stop()
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
