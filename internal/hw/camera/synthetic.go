package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"
)

// Synthetic is a Source producing a plain test pattern.
// Used for development on PC together with the scripted oracle.
type Synthetic struct {
	interval time.Duration
	res      Resolution
	open     bool
	seq      uint64
}

// NewSynthetic creates a test source; interval simulates exposure time.
func NewSynthetic(interval time.Duration) *Synthetic {
	return &Synthetic{interval: interval}
}

func (s *Synthetic) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.open = true
	return nil
}

func (s *Synthetic) Configure(ctx context.Context, res Resolution) error {
	if !s.open {
		return &DeviceError{Op: "configure", Err: ErrNotOpen}
	}
	if err := res.Validate(); err != nil {
		return &DeviceError{Op: "configure", Err: err}
	}
	s.res = res
	return nil
}

func (s *Synthetic) Capture(ctx context.Context) (Frame, error) {
	if !s.open || s.res.Width == 0 {
		return Frame{}, ErrNotOpen
	}
	if s.interval > 0 {
		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}

	s.seq++
	img := image.NewGray(image.Rect(0, 0, s.res.Width, s.res.Height))
	shade := uint8(64 + (s.seq*16)%128)
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(int(s.seq)%s.res.Width, s.res.Height/2, color.Gray{Y: 255})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return Frame{}, fmt.Errorf("encode test pattern: %w", err)
	}
	return Frame{
		Seq:        s.seq,
		Data:       buf.Bytes(),
		Width:      s.res.Width,
		Height:     s.res.Height,
		CapturedAt: time.Now(),
	}, nil
}

func (s *Synthetic) Close() error {
	s.open = false
	return nil
}
