//go:build linux

package camera

import (
	"context"
	"time"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// V4L2 is a Source that streams MJPEG straight from a V4L2 node.
// MJPEG frames are already JPEG, so no re-encoding happens.
type V4L2 struct {
	path    string
	timeout time.Duration
	report  func(error)

	dev    *device.Device
	stop   context.CancelFunc
	frames chan []byte // newest frame, closed when the stream ends
	res    Resolution
	seq    uint64
}

// NewV4L2 creates a V4L2 source; timeout bounds the wait for one frame.
func NewV4L2(path string, timeout time.Duration) (Source, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &V4L2{path: path, timeout: timeout}, nil
}

// Watch registers report, called with ErrDisconnected when the stream ends
// without Close. Must be set before Configure.
func (c *V4L2) Watch(report func(error)) {
	c.report = report
}

func (c *V4L2) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	debug.Verbose("Camera: opening V4L2 device %s", c.path)
	if err := checkNode(c.path); err != nil {
		return err
	}
	dev, err := device.Open(c.path, device.WithBufferSize(2))
	if err != nil {
		return classify("open", err)
	}
	c.dev = dev
	return nil
}

// Configure re-opens the node with the requested MJPEG format and starts streaming.
func (c *V4L2) Configure(ctx context.Context, res Resolution) error {
	if c.dev == nil {
		return &DeviceError{Op: "configure", Err: ErrNotOpen}
	}
	if err := res.Validate(); err != nil {
		return &DeviceError{Op: "configure", Err: err}
	}

	_ = c.dev.Close()
	dev, err := device.Open(
		c.path,
		device.WithBufferSize(2),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(res.Width),
			Height:      uint32(res.Height),
		}),
	)
	if err != nil {
		c.dev = nil
		return classify("configure", err)
	}
	c.dev = dev

	streamCtx, cancel := context.WithCancel(context.Background())
	if err := c.dev.Start(streamCtx); err != nil {
		cancel()
		return classify("configure", err)
	}
	c.stop = cancel
	c.frames = make(chan []byte, 1)
	go pump(streamCtx, c.dev.GetOutput(), c.frames, c.report)
	c.res = res
	debug.Verbose("Camera: V4L2 streaming MJPEG at %s", res)
	return nil
}

// pump copies driver buffers into latest, keeping only the newest one.
// If out closes while streaming is still wanted, the device went away.
func pump(streaming context.Context, out <-chan []byte, latest chan []byte, report func(error)) {
	for b := range out {
		data := make([]byte, len(b))
		copy(data, b)
		select {
		case <-latest:
		default:
		}
		latest <- data
	}
	close(latest)
	if streaming.Err() == nil && report != nil {
		debug.Warn("Camera: V4L2 stream ended unexpectedly")
		report(ErrDisconnected)
	}
}

func (c *V4L2) Capture(ctx context.Context) (Frame, error) {
	if c.frames == nil {
		return Frame{}, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	// The driver keeps streaming between cycles; drop the queued frame so
	// the evaluated one is fresh.
	select {
	case _, ok := <-c.frames:
		if !ok {
			return Frame{}, ErrDisconnected
		}
	default:
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case data, ok := <-c.frames:
		if !ok {
			return Frame{}, ErrDisconnected
		}
		c.seq++
		return Frame{
			Seq:        c.seq,
			Data:       data,
			Width:      c.res.Width,
			Height:     c.res.Height,
			CapturedAt: time.Now(),
		}, nil
	case <-timer.C:
		return Frame{}, ErrTimeout
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *V4L2) Close() error {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.frames = nil
	if c.dev == nil {
		return nil
	}
	debug.Verbose("Camera: closing V4L2 device %s", c.path)
	err := c.dev.Close()
	c.dev = nil
	return err
}
