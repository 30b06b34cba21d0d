package feedback

import (
	"fmt"
	"strings"

	"github.com/cjeanneret/SmileGo/internal/debug"
)

// LogSink is a Sink that only logs, for machines without the HAT.
type LogSink struct{}

func (LogSink) SetDisplayText(text string) error {
	debug.Live("Display: %q", text)
	return nil
}

func (LogSink) WriteLEDFrame(brightness uint8, colors []Color) error {
	if !debug.IsEnabled(debug.LevelTrace) {
		return nil
	}
	cells := make([]string, len(colors))
	for i, c := range colors {
		if c == (Color{}) {
			cells[i] = "......"
			continue
		}
		cells[i] = fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
	}
	debug.Trace("LED strip [b=%d] %s", brightness, strings.Join(cells, " "))
	return nil
}

func (LogSink) Close() error { return nil }
