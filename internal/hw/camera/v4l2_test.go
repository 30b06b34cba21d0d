//go:build linux

package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	_ Source  = (*V4L2)(nil)
	_ Watcher = (*V4L2)(nil)
)

func TestV4L2_CloseNeverOpened(t *testing.T) {
	src, err := NewV4L2("/dev/video0", 0)
	if err != nil {
		t.Fatalf("NewV4L2: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestV4L2_OpenMissingNode(t *testing.T) {
	src, _ := NewV4L2("/dev/video-smilego-missing", 0)
	if err := src.Open(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Open = %v, want ErrNoDevice", err)
	}
}

func TestPump_KeepsNewestFrame(t *testing.T) {
	out := make(chan []byte, 3)
	out <- []byte("a")
	out <- []byte("b")
	out <- []byte("c")
	close(out)

	stopped, cancel := context.WithCancel(context.Background())
	cancel()
	latest := make(chan []byte, 1)
	reported := 0
	pump(stopped, out, latest, func(error) { reported++ })

	if got := string(<-latest); got != "c" {
		t.Errorf("latest frame = %q, want c", got)
	}
	if _, ok := <-latest; ok {
		t.Error("latest should be closed after the stream ends")
	}
	if reported != 0 {
		t.Errorf("report called %d times after a requested stop", reported)
	}
}

func TestPump_ReportsLostStream(t *testing.T) {
	out := make(chan []byte)
	close(out)

	var got error
	pump(context.Background(), out, make(chan []byte, 1), func(err error) { got = err })
	if !errors.Is(got, ErrDisconnected) {
		t.Errorf("reported %v, want ErrDisconnected", got)
	}
}

func TestV4L2_CaptureDropsStaleFrame(t *testing.T) {
	frames := make(chan []byte, 1)
	frames <- []byte("stale")
	c := &V4L2{timeout: time.Second, frames: frames, res: Resolution{320, 240}}

	go func() {
		time.Sleep(5 * time.Millisecond)
		frames <- []byte("fresh")
	}()
	f, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(f.Data) != "fresh" || f.Seq != 1 || f.Width != 320 {
		t.Errorf("frame = %+v, want fresh 320 wide with seq 1", f)
	}
}

func TestV4L2_CaptureErrors(t *testing.T) {
	c := &V4L2{timeout: 10 * time.Millisecond, frames: make(chan []byte, 1)}
	if _, err := c.Capture(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("Capture with no frame = %v, want ErrTimeout", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.frames <- []byte("ready")
	if _, err := c.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Capture after cancel = %v, want context.Canceled", err)
	}
	if len(c.frames) != 1 {
		t.Error("a cancelled capture should not consume frames")
	}

	close(c.frames)
	if _, err := c.Capture(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Capture on ended stream = %v, want ErrDisconnected", err)
	}
}
