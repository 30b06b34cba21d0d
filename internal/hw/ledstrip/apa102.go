package ledstrip

import (
	"fmt"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/hw/gpio"
)

// MaxBrightness is the largest value of the APA102 5-bit global brightness field.
const MaxBrightness = 31

// Color is a 24-bit RGB value.
type Color struct {
	R, G, B uint8
}

// APA102 drives a chain of APA102 (DotStar) LEDs over SPI.
//
// Wire format per write:
//   - start frame: 4 x 0x00
//   - one 4-byte frame per LED: 0b111xxxxx (brightness), B, G, R
//   - end frame: at least n/2 clock edges, sent as 0xFF bytes
type APA102 struct {
	bus    gpio.SPIBus
	length int
}

// New creates a strip of length LEDs on the given SPI bus.
func New(bus gpio.SPIBus, length int) (*APA102, error) {
	if length <= 0 {
		return nil, fmt.Errorf("strip length must be > 0, got %d", length)
	}
	return &APA102{bus: bus, length: length}, nil
}

// Len returns the number of LEDs in the chain.
func (s *APA102) Len() int {
	return s.length
}

// Write pushes colors to the strip with a global brightness (0-31).
// Missing colors are sent as off; extra colors are ignored.
func (s *APA102) Write(brightness uint8, colors []Color) error {
	if brightness > MaxBrightness {
		return fmt.Errorf("brightness must be between 0 and %d, got %d", MaxBrightness, brightness)
	}
	frame := Encode(brightness, colors, s.length)
	debug.Trace("LED strip: writing %d LEDs at brightness %d", s.length, brightness)
	return s.bus.Transmit(frame)
}

// Off blanks every LED.
func (s *APA102) Off() error {
	return s.Write(0, nil)
}

// Close blanks the strip and releases the bus.
func (s *APA102) Close() error {
	offErr := s.Off()
	if err := s.bus.Close(); err != nil {
		return err
	}
	return offErr
}

// Encode builds the SPI payload for n LEDs.
func Encode(brightness uint8, colors []Color, n int) []byte {
	endLen := (n + 15) / 16
	if endLen < 4 {
		endLen = 4
	}
	buf := make([]byte, 0, 4+4*n+endLen)
	buf = append(buf, 0, 0, 0, 0)

	header := 0xE0 | (brightness & MaxBrightness)
	for i := 0; i < n; i++ {
		var c Color
		if i < len(colors) {
			c = colors[i]
		}
		buf = append(buf, header, c.B, c.G, c.R)
	}
	for i := 0; i < endLen; i++ {
		buf = append(buf, 0xFF)
	}
	return buf
}
