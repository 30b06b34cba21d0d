package device

import (
	"context"
	"errors"
	"sync"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/hw/camera"
	"github.com/looplab/fsm"
)

// Device states.
const (
	StateClosed             = "closed"
	StateOpening            = "opening"
	StateSessionConfiguring = "session_configuring"
	StateReady              = "ready"
	StateCapturing          = "capturing"
	StateError              = "error"
)

const (
	evOpen       = "open"
	evOpened     = "opened"
	evConfigured = "configured"
	evCapture    = "capture"
	evCaptured   = "captured"
	evClose      = "close"
	evFail       = "fail"
)

var (
	// ErrClosed is returned once the lifecycle reached a terminal state.
	ErrClosed = errors.New("device: lifecycle closed")
	// ErrNotReady is returned when a capture is requested outside Ready.
	ErrNotReady = errors.New("device: not ready")
)

var active = []string{StateOpening, StateSessionConfiguring, StateReady, StateCapturing}

// Lifecycle drives a camera.Source through open, session configuration and
// capture. Closed (once opened) and Error are terminal: there is no reopen.
type Lifecycle struct {
	src camera.Source
	res camera.Resolution

	mu       sync.Mutex // guards the transitions below
	fsm      *fsm.FSM
	started  bool
	shut     bool
	err      error
	observer func(from, to string)

	done     chan struct{}
	doneOnce sync.Once

	drvMu    sync.Mutex // serializes calls into src
	released bool
}

// New creates a lifecycle in the Closed state.
func New(src camera.Source, res camera.Resolution) *Lifecycle {
	l := &Lifecycle{
		src:  src,
		res:  res,
		done: make(chan struct{}),
	}
	l.fsm = fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: evOpen, Src: []string{StateClosed}, Dst: StateOpening},
			{Name: evOpened, Src: []string{StateOpening}, Dst: StateSessionConfiguring},
			{Name: evConfigured, Src: []string{StateSessionConfiguring}, Dst: StateReady},
			{Name: evCapture, Src: []string{StateReady}, Dst: StateCapturing},
			{Name: evCaptured, Src: []string{StateCapturing}, Dst: StateReady},
			{Name: evClose, Src: active, Dst: StateClosed},
			{Name: evFail, Src: active, Dst: StateError},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				debug.State(e.Src, e.Dst)
			},
		},
	)
	if w, ok := src.(camera.Watcher); ok {
		w.Watch(l.Report)
	}
	return l
}

// OnTransition registers a hook called after every state change.
// Must be set before Open.
func (l *Lifecycle) OnTransition(fn func(from, to string)) {
	l.mu.Lock()
	l.observer = fn
	l.mu.Unlock()
}

// State returns the current state.
func (l *Lifecycle) State() string {
	return l.fsm.Current()
}

// Done is closed when the lifecycle enters a terminal state.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Err returns the fatal error that moved the lifecycle to Error, nil otherwise.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Open acquires the device and negotiates the capture session.
// It returns nil once Ready. Any failure is fatal.
func (l *Lifecycle) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrClosed
	}
	l.started = true
	l.mu.Unlock()

	if !l.advance(evOpen) {
		return ErrClosed
	}

	debug.Verbose("Device: opening capture device")
	if err := l.driver(func() error { return l.src.Open(ctx) }); err != nil {
		return l.fail(err)
	}
	if !l.advance(evOpened) {
		return ErrClosed
	}

	debug.Verbose("Device: configuring session at %s", l.res)
	if err := l.driver(func() error { return l.src.Configure(ctx, l.res) }); err != nil {
		var de *camera.DeviceError
		if !errors.As(err, &de) && !errors.Is(err, ErrClosed) {
			err = &camera.DeviceError{Op: "configure", Err: err}
		}
		return l.fail(err)
	}
	if !l.advance(evConfigured) {
		return ErrClosed
	}
	return nil
}

// Capture requests exactly one frame. Transient errors return the lifecycle
// to Ready and are handed back; a disconnection closes it; anything fatal
// moves it to Error. A cancelled ctx never reaches the source.
func (l *Lifecycle) Capture(ctx context.Context) (camera.Frame, error) {
	l.mu.Lock()
	if err := ctx.Err(); err != nil {
		l.mu.Unlock()
		return camera.Frame{}, err
	}
	switch l.fsm.Current() {
	case StateReady:
	case StateError:
		l.mu.Unlock()
		return camera.Frame{}, ErrClosed
	case StateClosed:
		l.mu.Unlock()
		return camera.Frame{}, ErrClosed
	default:
		l.mu.Unlock()
		return camera.Frame{}, ErrNotReady
	}
	l.fireLocked(evCapture)
	l.mu.Unlock()

	var frame camera.Frame
	err := l.driver(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		frame, err = l.src.Capture(ctx)
		return err
	})

	switch {
	case err == nil:
		if !l.advance(evCaptured) {
			return camera.Frame{}, ErrClosed
		}
		return frame, nil
	case errors.Is(err, ErrClosed):
		return camera.Frame{}, ErrClosed
	case errors.Is(err, camera.ErrDisconnected):
		debug.Warn("Device: capture device disconnected")
		l.terminate(evClose, nil)
		_ = l.release()
		return camera.Frame{}, err
	case camera.IsFatal(err):
		return camera.Frame{}, l.fail(err)
	default:
		if !l.advance(evCaptured) {
			return camera.Frame{}, ErrClosed
		}
		return camera.Frame{}, err
	}
}

// Report hands over an error raised by the driver outside a capture call.
// Sources implementing camera.Watcher are wired to it by New. Errors
// arriving after a terminal state are ignored.
func (l *Lifecycle) Report(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, camera.ErrDisconnected) {
		if l.terminate(evClose, nil) {
			debug.Warn("Device: capture device disconnected")
			go l.release()
		}
		return
	}
	if l.terminate(evFail, err) {
		debug.ErrorMsg("Device: unrecoverable driver error", err)
	}
}

// Close moves the lifecycle to Closed and releases the device. In Error the
// state is kept and only resources are released. Idempotent.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	l.started = true
	l.shut = true
	var from string
	switch cur := l.fsm.Current(); cur {
	case StateClosed:
		l.finish()
	case StateError:
	default:
		from = cur
		l.fireLocked(evClose)
	}
	notify := l.observer
	l.mu.Unlock()

	if from != "" && notify != nil {
		notify(from, StateClosed)
	}
	return l.release()
}

// advance fires a forward event. It returns false if the lifecycle was
// closed or failed concurrently.
func (l *Lifecycle) advance(event string) bool {
	l.mu.Lock()
	from := l.fsm.Current()
	if from == StateError || (from == StateClosed && (event != evOpen || l.shut)) {
		l.mu.Unlock()
		return false
	}
	ok := l.fireLocked(event)
	to := l.fsm.Current()
	notify := l.observer
	l.mu.Unlock()

	if ok && notify != nil {
		notify(from, to)
	}
	return ok
}

// fail records a fatal error and moves to Error. Returns the error the
// caller should surface.
func (l *Lifecycle) fail(err error) error {
	if errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	if !l.terminate(evFail, err) {
		debug.Verbose("Device: ignoring driver error after shutdown: %v", err)
		return ErrClosed
	}
	debug.ErrorMsg("Device: fatal error", err)
	return err
}

// terminate fires close or fail from an active state. It returns false when
// the lifecycle already reached a terminal state.
func (l *Lifecycle) terminate(event string, err error) bool {
	l.mu.Lock()
	from := l.fsm.Current()
	if from == StateClosed || from == StateError {
		l.mu.Unlock()
		return false
	}
	if err != nil {
		l.err = err
	}
	ok := l.fireLocked(event)
	to := l.fsm.Current()
	notify := l.observer
	l.mu.Unlock()

	if ok && notify != nil {
		notify(from, to)
	}
	return ok
}

// fireLocked triggers an fsm event. Caller holds mu.
func (l *Lifecycle) fireLocked(event string) bool {
	if err := l.fsm.Event(context.Background(), event); err != nil {
		debug.Trace("Device: event %q rejected in %s: %v", event, l.fsm.Current(), err)
		return false
	}
	switch l.fsm.Current() {
	case StateClosed, StateError:
		l.finish()
	}
	return true
}

func (l *Lifecycle) finish() {
	l.doneOnce.Do(func() { close(l.done) })
}

// driver runs fn with exclusive access to the source.
func (l *Lifecycle) driver(fn func() error) error {
	l.drvMu.Lock()
	defer l.drvMu.Unlock()
	if l.released {
		return ErrClosed
	}
	return fn()
}

// release closes the source once. It waits for an in-flight driver call.
func (l *Lifecycle) release() error {
	l.drvMu.Lock()
	defer l.drvMu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	debug.Verbose("Device: releasing capture device")
	return l.src.Close()
}
