package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/events"
	"github.com/cjeanneret/SmileGo/internal/hw/camera"
	"github.com/cjeanneret/SmileGo/internal/logic/device"
	"github.com/cjeanneret/SmileGo/internal/logic/smile"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultDebounce is the pause after a counted smile.
const DefaultDebounce = 500 * time.Millisecond

// retryDelay paces the loop after a transient capture failure.
var retryDelay = 100 * time.Millisecond

// Device is the capture lifecycle the controller drives.
// *device.Lifecycle implements it.
type Device interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (camera.Frame, error)
	Close() error
	Done() <-chan struct{}
	Err() error
	State() string
}

// Feedback receives user-visible reactions. *feedback.Dispatcher implements it.
type Feedback interface {
	Ready()
	Smile(count int)
	Halt()
}

// Config is the counting policy.
type Config struct {
	Threshold float64
	Debounce  time.Duration
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	Session   string    `json:"session"`
	Count     int       `json:"count"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	Cycles    uint64    `json:"cycles"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastSmile time.Time `json:"last_smile,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Controller runs the capture, evaluate, react loop. Exactly one cycle is
// in flight at any time.
type Controller struct {
	dev      Device
	oracle   smile.Oracle
	feedback Feedback
	events   events.Emitter
	cfg      Config
	session  string

	mu        sync.Mutex
	count     int
	cycles    uint64
	failures  uint64
	lastErr   string
	lastSmile time.Time
	startedAt time.Time
	started   bool
	running   bool
	cancel    context.CancelFunc
	err       error

	stopOnce sync.Once
	done     chan struct{}
}

// NewController wires the loop. emitter may be nil.
func NewController(dev Device, oracle smile.Oracle, fb Feedback, emitter events.Emitter, cfg Config) *Controller {
	if cfg.Threshold <= 0 {
		cfg.Threshold = smile.DefaultThreshold
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if emitter == nil {
		emitter = events.Discard
	}
	c := &Controller{
		dev:      dev,
		oracle:   oracle,
		feedback: fb,
		events:   emitter,
		cfg:      cfg,
		session:  uuid.NewString(),
		done:     make(chan struct{}),
	}
	if obs, ok := dev.(interface{ OnTransition(func(from, to string)) }); ok {
		obs.OnTransition(c.deviceStateChanged)
	}
	return c
}

// Session returns the session UUID stamped on every event.
func (c *Controller) Session() string {
	return c.session
}

// Start opens the device and runs the loop in the background. Calling it
// again, or after Stop, has no effect.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.running = true
	c.startedAt = time.Now()
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop ends the loop and closes the device. No capture is requested
// afterwards, even if an evaluation resolves later. Idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		wasStarted := c.started
		c.started = true
		cancel := c.cancel
		c.mu.Unlock()

		debug.Info("Stopping smile counter")
		if cancel != nil {
			cancel()
		}
		c.feedback.Halt()
		if err := c.dev.Close(); err != nil {
			debug.ErrorMsg("Error closing capture device", err)
		}
		if !wasStarted {
			close(c.done)
		}
	})
}

// Done is closed when the loop has terminated.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error that ended the loop, nil after a clean stop.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Count returns the number of smiles counted so far.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Snapshot returns the current counters.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Session:   c.session,
		Count:     c.count,
		State:     c.dev.State(),
		Running:   c.running,
		Cycles:    c.cycles,
		Failures:  c.failures,
		LastError: c.lastErr,
		LastSmile: c.lastSmile,
		StartedAt: c.startedAt,
	}
}

type captured struct {
	frame camera.Frame
	err   error
}

type evaluated struct {
	faces []smile.FaceObservation
	err   error
}

// errStopped ends the loop without an error.
var errStopped = errors.New("stopped")

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		c.mu.Lock()
		c.running = false
		cancel := c.cancel
		c.mu.Unlock()
		// Unblock any driver or oracle call still in flight.
		cancel()
		c.feedback.Halt()
		_ = c.dev.Close()
	}()

	debug.Summary("Smile counter starting")
	debug.Verbose("Session %s, threshold %.2f, debounce %v", c.session, c.cfg.Threshold, c.cfg.Debounce)

	if err := c.dev.Open(ctx); err != nil {
		c.halt(ctx, err)
		return
	}
	debug.Info("Capture device ready")
	c.feedback.Ready()

	for seq := uint64(1); ; seq++ {
		if err := c.cycle(ctx, seq); err != nil {
			c.halt(ctx, err)
			return
		}
	}
}

// cycle runs one capture, evaluate, react round. A non-nil return ends the loop.
func (c *Controller) cycle(ctx context.Context, seq uint64) error {
	if ctx.Err() != nil {
		return errStopped
	}
	id := ulid.Make().String()
	debug.Cycle(seq, id)
	c.mu.Lock()
	c.cycles++
	c.mu.Unlock()

	// capture
	capc := make(chan captured, 1)
	go func() {
		f, err := c.dev.Capture(ctx)
		capc <- captured{f, err}
	}()
	var frame camera.Frame
	select {
	case r := <-capc:
		if r.err != nil {
			return c.captureFailed(ctx, seq, r.err)
		}
		frame = r.frame
	case <-ctx.Done():
		return errStopped
	case <-c.dev.Done():
		return c.deviceGone(ctx)
	}
	debug.Live("Image available (frame %d, %d bytes)", frame.Seq, len(frame.Data))

	// evaluate
	evc := make(chan evaluated, 1)
	go func() {
		faces, err := c.oracle.Evaluate(ctx, frame)
		evc <- evaluated{faces, err}
	}()
	var r evaluated
	select {
	case r = <-evc:
	case <-ctx.Done():
		debug.Verbose("Discarding evaluation of cycle %d: stopped", seq)
		return errStopped
	case <-c.dev.Done():
		debug.Verbose("Discarding evaluation of cycle %d: device terminated", seq)
		return c.deviceGone(ctx)
	}
	if ctx.Err() != nil {
		debug.Verbose("Discarding evaluation of cycle %d: stopped", seq)
		return errStopped
	}
	select {
	case <-c.dev.Done():
		debug.Verbose("Discarding evaluation of cycle %d: device terminated", seq)
		return c.deviceGone(ctx)
	default:
	}

	if r.err != nil {
		debug.ErrorMsg("Face detection failed", r.err)
		c.recordFailure(r.err)
		e := events.New(c.session, events.KindEvaluationFailed)
		e.Seq = seq
		e.Count = c.Count()
		e.Error = r.err.Error()
		c.events.Emit(e)
		return nil
	}

	// react
	debug.Faces(seq, len(r.faces))
	counted := false
	var count int
	c.mu.Lock()
	for i, f := range r.faces {
		debug.Verbose("  face %d: smiling probability %.3f", i+1, f.SmilingProbability)
		if f.Smiling(c.cfg.Threshold) {
			c.count++
			counted = true
			debug.Count(c.count)
		}
	}
	count = c.count
	if counted {
		c.lastSmile = time.Now()
	}
	c.mu.Unlock()

	if !counted {
		return nil
	}

	c.feedback.Smile(count)
	e := events.New(c.session, events.KindSmile)
	e.Seq = seq
	e.Count = count
	e.Probabilities = smile.Probabilities(r.faces)
	c.events.Emit(e)

	if c.cfg.Debounce <= 0 {
		return nil
	}
	debug.Live("Debouncing for %v", c.cfg.Debounce)
	timer := time.NewTimer(c.cfg.Debounce)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errStopped
	case <-c.dev.Done():
		return c.deviceGone(ctx)
	}
}

// captureFailed sorts a capture error into loop-ending or transient.
func (c *Controller) captureFailed(ctx context.Context, seq uint64, err error) error {
	switch {
	case ctx.Err() != nil:
		return errStopped
	case errors.Is(err, device.ErrClosed), errors.Is(err, camera.ErrDisconnected):
		return c.deviceGone(ctx)
	case camera.IsFatal(err):
		return err
	}

	debug.ErrorMsg("Failed to capture picture", err)
	c.recordFailure(err)
	ev := events.New(c.session, events.KindCaptureFailed)
	ev.Seq = seq
	ev.Count = c.Count()
	ev.Error = err.Error()
	c.events.Emit(ev)

	if retryDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errStopped
	case <-c.dev.Done():
		return c.deviceGone(ctx)
	}
}

// deviceGone reports why the lifecycle terminated underneath the loop.
func (c *Controller) deviceGone(ctx context.Context) error {
	if ctx.Err() != nil {
		return errStopped
	}
	if err := c.dev.Err(); err != nil {
		return err
	}
	return camera.ErrDisconnected
}

// halt records the reason the loop ended.
func (c *Controller) halt(ctx context.Context, err error) {
	if errors.Is(err, errStopped) || (errors.Is(err, device.ErrClosed) && ctx.Err() != nil) {
		debug.Info("Smile counter stopped (count %d)", c.Count())
		return
	}
	if errors.Is(err, device.ErrClosed) {
		err = c.deviceGone(ctx)
		if errors.Is(err, errStopped) {
			return
		}
	}
	debug.ErrorMsg("Smile counter halted", err)
	c.mu.Lock()
	c.err = err
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *Controller) recordFailure(err error) {
	c.mu.Lock()
	c.failures++
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// deviceStateChanged publishes lifecycle transitions, except the
// Ready/Capturing flip of every cycle.
func (c *Controller) deviceStateChanged(from, to string) {
	if to == device.StateCapturing || from == device.StateCapturing && to == device.StateReady {
		return
	}
	e := events.New(c.session, events.KindState)
	e.State = to
	e.Count = c.Count()
	c.events.Emit(e)
}
