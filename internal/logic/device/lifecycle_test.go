package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SmileGo/internal/hw/camera"
)

// fakeSource is a scripted camera.Source.
type fakeSource struct {
	mu          sync.Mutex
	openErr     error
	configErr   error
	captureErrs []error // consumed in order, nil = success
	block       chan struct{}
	calls       []string
	closed      int
}

func (s *fakeSource) record(op string) {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	s.mu.Unlock()
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.record("open")
	return s.openErr
}

func (s *fakeSource) Configure(ctx context.Context, res camera.Resolution) error {
	s.record("configure")
	return s.configErr
}

func (s *fakeSource) Capture(ctx context.Context) (camera.Frame, error) {
	s.record("capture")
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captureErrs) > 0 {
		err := s.captureErrs[0]
		s.captureErrs = s.captureErrs[1:]
		if err != nil {
			return camera.Frame{}, err
		}
	}
	return camera.Frame{Seq: 1, Data: []byte{0xFF, 0xD8}}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// watchingSource reports stream failures through the hook it was given.
type watchingSource struct {
	fakeSource
	report func(error)
}

func (s *watchingSource) Watch(report func(error)) { s.report = report }

func (s *fakeSource) captured() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == "capture" {
			n++
		}
	}
	return n
}

var qvga = camera.Resolution{Width: 320, Height: 240}

func isDone(l *Lifecycle) bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}

func TestOpen_ReachesReady(t *testing.T) {
	src := &fakeSource{}
	l := New(src, qvga)

	var transitions []string
	l.OnTransition(func(from, to string) { transitions = append(transitions, from+">"+to) })

	if l.State() != StateClosed {
		t.Fatalf("initial state = %s, want %s", l.State(), StateClosed)
	}
	if err := l.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.State() != StateReady {
		t.Errorf("state = %s, want %s", l.State(), StateReady)
	}
	want := []string{"closed>opening", "opening>session_configuring", "session_configuring>ready"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
	if isDone(l) {
		t.Error("Done should not be closed while Ready")
	}
}

func TestOpen_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
	}{
		{"busy", &fakeSource{openErr: &camera.DeviceError{Op: "open", Err: camera.ErrDeviceBusy}}},
		{"permission", &fakeSource{openErr: camera.ErrPermissionDenied}},
		{"no device", &fakeSource{openErr: camera.ErrNoDevice}},
		{"session", &fakeSource{configErr: errors.New("format rejected")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.src, qvga)
			err := l.Open(context.Background())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if l.State() != StateError {
				t.Errorf("state = %s, want %s", l.State(), StateError)
			}
			if !isDone(l) {
				t.Error("Done should be closed in Error")
			}
			if !camera.IsFatal(l.Err()) {
				t.Errorf("Err() = %v, want fatal error", l.Err())
			}
		})
	}
}

func TestOpen_OnlyOnce(t *testing.T) {
	l := New(&fakeSource{}, qvga)
	_ = l.Open(context.Background())
	if err := l.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("second Open = %v, want ErrClosed", err)
	}
}

func TestCapture_ReturnsToReady(t *testing.T) {
	src := &fakeSource{}
	l := New(src, qvga)
	_ = l.Open(context.Background())

	f, err := l.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if f.Seq != 1 {
		t.Errorf("frame seq = %d, want 1", f.Seq)
	}
	if l.State() != StateReady {
		t.Errorf("state = %s, want %s", l.State(), StateReady)
	}
}

func TestCapture_BeforeOpen(t *testing.T) {
	l := New(&fakeSource{}, qvga)
	if _, err := l.Capture(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Capture = %v, want ErrClosed", err)
	}
}

func TestCapture_TransientError(t *testing.T) {
	src := &fakeSource{captureErrs: []error{camera.ErrTimeout, nil}}
	l := New(src, qvga)
	_ = l.Open(context.Background())

	if _, err := l.Capture(context.Background()); !errors.Is(err, camera.ErrTimeout) {
		t.Fatalf("Capture = %v, want ErrTimeout", err)
	}
	if l.State() != StateReady {
		t.Errorf("state after transient error = %s, want %s", l.State(), StateReady)
	}
	if _, err := l.Capture(context.Background()); err != nil {
		t.Errorf("next Capture = %v, want nil", err)
	}
}

func TestCapture_FatalError(t *testing.T) {
	fatal := &camera.DeviceError{Op: "capture", Code: 5, Err: errors.New("EIO")}
	src := &fakeSource{captureErrs: []error{fatal}}
	l := New(src, qvga)
	_ = l.Open(context.Background())

	if _, err := l.Capture(context.Background()); !errors.Is(err, fatal) {
		t.Fatalf("Capture = %v, want %v", err, fatal)
	}
	if l.State() != StateError {
		t.Errorf("state = %s, want %s", l.State(), StateError)
	}
	if !errors.Is(l.Err(), fatal) {
		t.Errorf("Err() = %v, want %v", l.Err(), fatal)
	}
	if !isDone(l) {
		t.Error("Done should be closed")
	}
}

func TestCapture_Disconnected(t *testing.T) {
	src := &fakeSource{captureErrs: []error{camera.ErrDisconnected}}
	l := New(src, qvga)
	_ = l.Open(context.Background())

	if _, err := l.Capture(context.Background()); !errors.Is(err, camera.ErrDisconnected) {
		t.Fatalf("Capture = %v, want ErrDisconnected", err)
	}
	if l.State() != StateClosed {
		t.Errorf("state = %s, want %s", l.State(), StateClosed)
	}
	if l.Err() != nil {
		t.Errorf("Err() = %v, want nil for disconnection", l.Err())
	}
	if src.closeCount() != 1 {
		t.Errorf("source closed %d times, want 1", src.closeCount())
	}
}

func TestReport_FatalWhileReady(t *testing.T) {
	l := New(&fakeSource{}, qvga)
	_ = l.Open(context.Background())

	fatal := &camera.DeviceError{Op: "stream", Err: errors.New("usb reset")}
	l.Report(fatal)

	if l.State() != StateError {
		t.Errorf("state = %s, want %s", l.State(), StateError)
	}
	if !errors.Is(l.Err(), fatal) {
		t.Errorf("Err() = %v, want %v", l.Err(), fatal)
	}
	if _, err := l.Capture(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Capture after fatal = %v, want ErrClosed", err)
	}
}

func TestWatch_StreamLossClosesLifecycle(t *testing.T) {
	src := &watchingSource{}
	l := New(src, qvga)
	if src.report == nil {
		t.Fatal("New should register a report hook on a watching source")
	}
	if err := l.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	src.report(camera.ErrDisconnected)

	if l.State() != StateClosed {
		t.Errorf("state = %s, want %s", l.State(), StateClosed)
	}
	if !isDone(l) {
		t.Error("Done should be closed after the stream is lost")
	}
	if l.Err() != nil {
		t.Errorf("Err() = %v, want nil for a disconnection", l.Err())
	}
	deadline := time.Now().Add(time.Second)
	for src.closeCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("source closed %d times, want 1", src.closeCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCapture_CancelledContextNeverReachesSource(t *testing.T) {
	src := &fakeSource{}
	l := New(src, qvga)
	_ = l.Open(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Capture = %v, want context.Canceled", err)
	}
	if n := src.captured(); n != 0 {
		t.Errorf("source saw %d captures, want 0", n)
	}
	if l.State() != StateReady {
		t.Errorf("state = %s, want %s", l.State(), StateReady)
	}
}

func TestReport_IgnoredAfterClose(t *testing.T) {
	l := New(&fakeSource{}, qvga)
	_ = l.Open(context.Background())
	_ = l.Close()

	l.Report(&camera.DeviceError{Op: "stream", Err: errors.New("late")})

	if l.State() != StateClosed {
		t.Errorf("state = %s, want %s", l.State(), StateClosed)
	}
	if l.Err() != nil {
		t.Errorf("Err() = %v, want nil", l.Err())
	}
}

func TestClose_Idempotent(t *testing.T) {
	src := &fakeSource{}
	l := New(src, qvga)
	_ = l.Open(context.Background())

	for i := 0; i < 3; i++ {
		if err := l.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
	if l.State() != StateClosed {
		t.Errorf("state = %s, want %s", l.State(), StateClosed)
	}
	if src.closeCount() != 1 {
		t.Errorf("source closed %d times, want 1", src.closeCount())
	}
	if !isDone(l) {
		t.Error("Done should be closed")
	}
}

func TestClose_BeforeOpen(t *testing.T) {
	l := New(&fakeSource{}, qvga)
	_ = l.Close()
	if !isDone(l) {
		t.Error("Done should be closed")
	}
	if err := l.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
}

func TestClose_KeepsErrorState(t *testing.T) {
	src := &fakeSource{openErr: camera.ErrDeviceBusy}
	l := New(src, qvga)
	_ = l.Open(context.Background())
	_ = l.Close()

	if l.State() != StateError {
		t.Errorf("state = %s, want %s", l.State(), StateError)
	}
	if src.closeCount() != 1 {
		t.Errorf("source closed %d times, want 1", src.closeCount())
	}
}

func TestClose_DuringCapture(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	l := New(src, qvga)
	_ = l.Open(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := l.Capture(context.Background())
		errc <- err
	}()

	// Wait until the capture is in the driver.
	deadline := time.Now().Add(time.Second)
	for l.State() != StateCapturing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	closed := make(chan struct{})
	go func() {
		_ = l.Close()
		close(closed)
	}()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	close(src.block)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("in-flight Capture = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Capture did not return")
	}
	<-closed
	if src.closeCount() != 1 {
		t.Errorf("source closed %d times, want 1", src.closeCount())
	}
}
