package feedback

import (
	"math"

	"github.com/cjeanneret/SmileGo/internal/hw/ledstrip"
)

// Color is one LED strip cell.
type Color = ledstrip.Color

// Sink receives display and LED strip updates.
type Sink interface {
	SetDisplayText(text string) error
	WriteLEDFrame(brightness uint8, colors []Color) error
	Close() error
}

// LEDFrame is one write to the strip.
type LEDFrame struct {
	Brightness uint8
	Colors     []Color
}

// Rainbow returns n colours evenly spread around the hue wheel at full
// saturation and value.
func Rainbow(n int) []Color {
	out := make([]Color, n)
	for i := range out {
		out[i] = hsv(float64(i)*360/float64(n), 1, 1)
	}
	return out
}

// Sweep returns the flash animation: one cell lit at a time from the last
// index down to the first, cell at step i carrying rainbow[i]. Each step is
// written at brightness, then again at 0.
func Sweep(rainbow []Color, brightness uint8) []LEDFrame {
	n := len(rainbow)
	frames := make([]LEDFrame, 0, 2*n)
	for i, c := range rainbow {
		cells := make([]Color, n)
		cells[n-1-i] = c
		frames = append(frames,
			LEDFrame{Brightness: brightness, Colors: cells},
			LEDFrame{Brightness: 0, Colors: cells},
		)
	}
	return frames
}

// hsv converts hue (degrees), saturation and value (0-1) to RGB.
func hsv(h, s, v float64) Color {
	h = math.Mod(h, 360)
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return Color{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
	}
}
