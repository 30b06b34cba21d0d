package events

import (
	"sync"

	"github.com/cjeanneret/SmileGo/internal/debug"
)

// Bus fans events out to publishers from a single goroutine, so a slow
// broker never stalls the counting loop. When the buffer is full, events
// are dropped.
type Bus struct {
	mu         sync.RWMutex
	publishers []Publisher
	closed     bool

	queue     chan Event
	closeOnce sync.Once
	done      chan struct{}
}

// NewBus starts the fan-out goroutine.
func NewBus(buffer int, publishers ...Publisher) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	b := &Bus{
		publishers: publishers,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

// Add registers another publisher.
func (b *Bus) Add(p Publisher) {
	b.mu.Lock()
	b.publishers = append(b.publishers, p)
	b.mu.Unlock()
}

// Emit queues e for delivery.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- e:
	default:
		debug.Warn("Events: buffer full, dropping %s event", e.Kind)
	}
}

// Close delivers what is queued, then closes every publisher.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
		<-b.done

		b.mu.RLock()
		defer b.mu.RUnlock()
		for _, p := range b.publishers {
			if cerr := p.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (b *Bus) run() {
	defer close(b.done)
	for e := range b.queue {
		b.mu.RLock()
		pubs := b.publishers
		b.mu.RUnlock()
		for _, p := range pubs {
			if err := p.Publish(e); err != nil {
				debug.ErrorMsg("Events: publish "+string(e.Kind)+" failed", err)
			}
		}
	}
}
