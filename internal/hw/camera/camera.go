package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

// Hardware limits of the supported USB/CSI sensors at the frame rates we use.
const (
	MaxWidth  = 640
	MaxHeight = 480
)

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Validate checks the resolution against the hardware maximum.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %s", r)
	}
	if r.Width > MaxWidth || r.Height > MaxHeight {
		return fmt.Errorf("resolution %s exceeds hardware max %dx%d", r, MaxWidth, MaxHeight)
	}
	return nil
}

// Frame is one captured image, JPEG encoded.
type Frame struct {
	Seq        uint64
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Source is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's driven
// (OpenCV, V4L2, synthetic test pattern).
//
// Calls are never concurrent: the device lifecycle serializes them.
type Source interface {
	// Open acquires the device.
	Open(ctx context.Context) error
	// Configure negotiates the capture session (resolution, format).
	Configure(ctx context.Context, res Resolution) error
	// Capture delivers exactly one frame, or an error.
	Capture(ctx context.Context) (Frame, error)
	// Close releases the device. Safe to call more than once.
	Close() error
}

// Device open failures. All of them are fatal.
var (
	ErrNoDevice         = errors.New("camera: no device present")
	ErrDeviceBusy       = errors.New("camera: device busy")
	ErrPermissionDenied = errors.New("camera: permission denied")
)

var (
	// ErrDisconnected means the device went away; the lifecycle closes cleanly.
	ErrDisconnected = errors.New("camera: device disconnected")
	// ErrNotOpen is returned when capturing before Open/Configure.
	ErrNotOpen = errors.New("camera: device not open")
	// ErrTimeout is a transient capture failure.
	ErrTimeout = errors.New("camera: frame timeout")
	// ErrUnsupported is returned for a backend left out of this build.
	ErrUnsupported = errors.New("camera: backend not built in")
)

// Watcher is implemented by sources that notice failures between captures,
// such as a stream closing. The source calls report from its own goroutine.
type Watcher interface {
	Watch(report func(error))
}

// DeviceError is an unrecoverable driver error.
type DeviceError struct {
	Op   string // "open", "configure", "capture"
	Code int    // driver error code, 0 if unknown
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("camera %s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("camera %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsFatal reports whether err leaves the device unusable.
func IsFatal(err error) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return true
	}
	return errors.Is(err, ErrNoDevice) ||
		errors.Is(err, ErrDeviceBusy) ||
		errors.Is(err, ErrPermissionDenied)
}

// checkNode opens a device node once to turn a missing, busy or forbidden
// device into the matching fatal error before a driver reports it vaguely.
func checkNode(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return classify("open", err)
	}
	return f.Close()
}

// classify maps an OS-level open error to the camera error taxonomy.
func classify(op string, err error) error {
	code := 0
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		err = fmt.Errorf("%w: %v", ErrNoDevice, err)
	case errors.Is(err, fs.ErrPermission):
		err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, syscall.EBUSY):
		err = fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	}
	return &DeviceError{Op: op, Code: code, Err: err}
}
