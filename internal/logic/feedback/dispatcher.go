package feedback

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/SmileGo/internal/debug"
)

// DefaultQueueSize bounds pending effects.
const DefaultQueueSize = 8

type effect struct {
	name  string
	steps []func(Sink) error
	text  string // what the display shows once applied, "" if unchanged
}

// Dispatcher applies effects to a Sink in order, on a single goroutine.
// Enqueueing never blocks: when the queue is full the effect is dropped, but
// its display text is kept and shown once the queue has drained, so the
// display never lags behind the newest value. Sink errors are logged and
// never propagated.
type Dispatcher struct {
	sink       Sink
	rainbow    []Color
	brightness uint8

	mu         sync.Mutex // orders enqueue against pending
	pending    string
	hasPending bool
	wake       chan struct{}

	queue    chan effect
	halted   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher starts the dispatcher goroutine. stripLen is the number of
// LED cells; brightness is the flash brightness.
func NewDispatcher(sink Sink, stripLen int, brightness uint8, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		sink:       sink,
		rainbow:    Rainbow(stripLen),
		brightness: brightness,
		queue:      make(chan effect, queueSize),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

// Ready shows INIT and switches the strip off.
func (d *Dispatcher) Ready() {
	off := make([]Color, len(d.rainbow))
	d.enqueue(effect{name: "ready", text: "INIT", steps: []func(Sink) error{
		func(s Sink) error { return s.SetDisplayText("INIT") },
		func(s Sink) error { return s.WriteLEDFrame(0, off) },
	}})
}

// Smile plays the rainbow sweep then shows count.
func (d *Dispatcher) Smile(count int) {
	d.Flash(strconv.Itoa(count))
}

// Flash plays the rainbow sweep then shows text.
func (d *Dispatcher) Flash(text string) {
	frames := Sweep(d.rainbow, d.brightness)
	steps := make([]func(Sink) error, 0, len(frames)+1)
	for _, f := range frames {
		steps = append(steps, func(s Sink) error { return s.WriteLEDFrame(f.Brightness, f.Colors) })
	}
	steps = append(steps, func(s Sink) error { return s.SetDisplayText(text) })
	d.enqueue(effect{name: "flash " + text, text: text, steps: steps})
}

// Text shows arbitrary text.
func (d *Dispatcher) Text(text string) {
	d.enqueue(effect{name: "text", text: text, steps: []func(Sink) error{
		func(s Sink) error { return s.SetDisplayText(text) },
	}})
}

// Halt stops applying effects. Pending and in-progress effects are
// abandoned. Safe to call more than once.
func (d *Dispatcher) Halt() {
	d.stopOnce.Do(func() {
		d.halted.Store(true)
		close(d.stop)
	})
}

// Done is closed once the dispatcher goroutine exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Drain waits until every queued effect was applied, then halts.
func (d *Dispatcher) Drain() {
	last := effect{name: "drain", steps: []func(Sink) error{
		func(s Sink) error {
			var err error
			if text, ok := d.takePending(); ok {
				err = s.SetDisplayText(text)
			}
			d.Halt()
			return err
		},
	}}
	if !d.halted.Load() {
		select {
		case d.queue <- last:
		case <-d.done:
		}
	}
	<-d.done
}

func (d *Dispatcher) enqueue(e effect) {
	if d.halted.Load() {
		debug.Trace("Feedback: dropping %s, dispatcher halted", e.name)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case d.queue <- e:
		if e.text != "" {
			d.hasPending = false
		}
	default:
		if e.text == "" {
			debug.Warn("Feedback: queue full, dropping %s", e.name)
			return
		}
		debug.Warn("Feedback: queue full, skipping %s, display catches up to %q", e.name, e.text)
		d.pending, d.hasPending = e.text, true
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

// takePending returns the collapsed display text once nothing newer is queued.
func (d *Dispatcher) takePending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasPending || len(d.queue) > 0 {
		return "", false
	}
	d.hasPending = false
	return d.pending, true
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case e := <-d.queue:
			if !d.apply(e) {
				return
			}
		case <-d.wake:
		}
		if text, ok := d.takePending(); ok {
			e := effect{name: "catch-up " + text, steps: []func(Sink) error{
				func(s Sink) error { return s.SetDisplayText(text) },
			}}
			if !d.apply(e) {
				return
			}
		}
	}
}

// apply runs the steps of e. It returns false once halted.
func (d *Dispatcher) apply(e effect) bool {
	debug.Trace("Feedback: applying %s", e.name)
	for _, step := range e.steps {
		if d.halted.Load() {
			return false
		}
		if err := step(d.sink); err != nil {
			debug.ErrorMsg("Feedback: "+e.name+" failed", err)
		}
	}
	return true
}
