package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Writer appends entries to a Store from a background goroutine so the
// conversation loop never waits on the database. Entries are dropped when
// the queue is full.
type Writer struct {
	store   Store
	queue   chan Entry
	dropped func()

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func NewWriter(store Store, queueSize int, onDrop func()) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	w := &Writer{store: store, queue: make(chan Entry, queueSize), dropped: onDrop, done: make(chan struct{})}
	go w.run()
	return w
}

// Append enqueues entry. It is safe on a nil Writer and after Close.
func (w *Writer) Append(entry Entry) {
	if w == nil {
		return
	}
	entry = withDefaults(entry)
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- entry:
	default:
		if w.dropped != nil {
			w.dropped()
		}
	}
}

// Close drains queued entries and stops the writer.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for entry := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := w.store.Append(ctx, entry); err != nil {
			slog.Warn("ledger append failed", "session_id", entry.SessionID, "kind", entry.Kind, "error", err)
		}
		cancel()
	}
}
