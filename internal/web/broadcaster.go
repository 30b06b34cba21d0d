package web

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/SmileGo/internal/events"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string        `json:"t"`
	Level string        `json:"l,omitempty"`
	Msg   string        `json:"msg"`
	Event *events.Event `json:"event,omitempty"`
}

// StatusBroadcaster distributes log lines and counter events to SSE clients.
// It is an events.Publisher.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	closed  bool
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
// After Close the channel is returned already closed.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Publish forwards a counter event to the clients with level "event".
func (b *StatusBroadcaster) Publish(e events.Event) error {
	b.send(StatusEvent{Level: "event", Msg: describe(e), Event: &e})
	return nil
}

// Close disconnects every client. Later broadcasts are dropped.
func (b *StatusBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
	return nil
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

func describe(e events.Event) string {
	switch e.Kind {
	case events.KindSmile:
		return fmt.Sprintf("Smile counted, total %d", e.Count)
	case events.KindEvaluationFailed:
		return "Evaluation failed: " + e.Error
	case events.KindCaptureFailed:
		return "Capture failed: " + e.Error
	case events.KindState:
		return "Device " + e.State
	default:
		return string(e.Kind)
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
