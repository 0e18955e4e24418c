package pipeline

import (
	"sync"
	"time"

	"github.com/kalambet/foresight/internal/synth"
)

// DefaultWindowSize is the number of recent inputs kept for introspection.
const DefaultWindowSize = 50

// WindowEntry is one ingested input.
type WindowEntry struct {
	Input      synth.Input `json:"data"`
	IngestedAt time.Time   `json:"timestamp"`
}

// Window is a bounded FIFO of recent inputs. Appending at capacity evicts
// the oldest entry. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	buf   []WindowEntry
	start int
	n     int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{buf: make([]WindowEntry, capacity)}
}

// Add appends e, evicting the oldest entry when full.
func (w *Window) Add(e WindowEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = e
		w.n++
		return
	}
	w.buf[w.start] = e
	w.start = (w.start + 1) % len(w.buf)
}

// Snapshot returns the entries oldest first.
func (w *Window) Snapshot() []WindowEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]WindowEntry, w.n)
	for i := range w.n {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *Window) Cap() int { return len(w.buf) }
