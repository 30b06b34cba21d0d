//go:build opencv

package camera

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"gocv.io/x/gocv"
)

// OpenCV is a Source backed by an OpenCV VideoCapture (USB webcams, libcamera via V4L2 compat).
type OpenCV struct {
	device  string
	quality int

	vc  *gocv.VideoCapture
	img gocv.Mat
	res Resolution
	seq uint64
}

// NewOpenCV creates an OpenCV source for a device index ("0") or node ("/dev/video0").
// quality is the JPEG quality (1-100) used to encode captured frames.
func NewOpenCV(device string, quality int) (Source, error) {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &OpenCV{device: device, quality: quality}, nil
}

func (c *OpenCV) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	debug.Verbose("Camera: opening OpenCV device %q", c.device)

	if strings.HasPrefix(c.device, "/dev/") {
		// OpenCV only says "could not open"; check the node for a precise reason.
		if err := checkNode(c.device); err != nil {
			return err
		}
	}

	var id interface{} = c.device
	if n, err := strconv.Atoi(c.device); err == nil {
		id = n
	}
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return &DeviceError{Op: "open", Err: fmt.Errorf("%w: %v", ErrNoDevice, err)}
	}
	if !vc.IsOpened() {
		vc.Close()
		return &DeviceError{Op: "open", Err: ErrDeviceBusy}
	}

	c.vc = vc
	c.img = gocv.NewMat()
	return nil
}

func (c *OpenCV) Configure(ctx context.Context, res Resolution) error {
	if c.vc == nil {
		return &DeviceError{Op: "configure", Err: ErrNotOpen}
	}
	if err := res.Validate(); err != nil {
		return &DeviceError{Op: "configure", Err: err}
	}

	c.vc.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
	c.vc.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	c.vc.Set(gocv.VideoCaptureAutoExposure, 0.75) // V4L2 "aperture priority" = auto

	got := Resolution{
		Width:  int(c.vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(c.vc.Get(gocv.VideoCaptureFrameHeight)),
	}
	if got.Width <= 0 || got.Height <= 0 {
		return &DeviceError{Op: "configure", Err: fmt.Errorf("driver rejected resolution %s", res)}
	}
	if got != res {
		debug.Warn("Camera: requested %s, driver negotiated %s", res, got)
	}
	c.res = got
	debug.Verbose("Camera: session configured at %s", got)
	return nil
}

func (c *OpenCV) Capture(ctx context.Context) (Frame, error) {
	if c.vc == nil {
		return Frame{}, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if ok := c.vc.Read(&c.img); !ok {
		if !c.vc.IsOpened() {
			return Frame{}, ErrDisconnected
		}
		return Frame{}, fmt.Errorf("camera: read failed")
	}
	if c.img.Empty() {
		return Frame{}, fmt.Errorf("camera: empty frame")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.img, []int{int(gocv.IMWriteJpegQuality), c.quality})
	if err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	c.seq++
	return Frame{
		Seq:        c.seq,
		Data:       data,
		Width:      c.img.Cols(),
		Height:     c.img.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

func (c *OpenCV) Close() error {
	if c.vc == nil {
		return nil
	}
	debug.Verbose("Camera: closing OpenCV device %q", c.device)
	c.img.Close()
	err := c.vc.Close()
	c.vc = nil
	return err
}
