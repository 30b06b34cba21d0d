package feedback

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/hw/display"
	"github.com/cjeanneret/SmileGo/internal/hw/gpio"
	"github.com/cjeanneret/SmileGo/internal/hw/ledstrip"
)

// HatConfig describes the Rainbow HAT wiring.
type HatConfig struct {
	DisplayBrightness int
	StripLength       int
	SPISpeedHz        int
	RGB               gpio.RGBLEDs
}

// Hat is a Sink driving a Rainbow HAT: 14-segment display over I2C,
// APA102 strip over SPI and the three RGB LEDs over GPIO.
type Hat struct {
	display *display.Alphanumeric
	strip   *ledstrip.APA102
}

// NewHat brings up the HAT: display at full brightness and cleared, strip
// written with the rainbow at brightness 0, RGB LEDs off. i2c is closed on
// failure.
func NewHat(cfg HatConfig, drv gpio.Driver, i2c display.Bus) (*Hat, error) {
	debug.Section("Rainbow HAT init")

	debug.Step(1, "Alphanumeric display")
	disp, err := display.NewAlphanumeric(i2c)
	if err != nil {
		i2c.Close()
		return nil, fmt.Errorf("display: %w", err)
	}
	if err := disp.SetBrightness(cfg.DisplayBrightness); err != nil {
		disp.Close()
		return nil, fmt.Errorf("display brightness: %w", err)
	}
	if err := disp.SetEnabled(true); err != nil {
		disp.Close()
		return nil, fmt.Errorf("display enable: %w", err)
	}
	if err := disp.Clear(); err != nil {
		disp.Close()
		return nil, fmt.Errorf("display clear: %w", err)
	}

	debug.Step(2, "LED strip")
	spi, err := drv.OpenSPI(cfg.SPISpeedHz)
	if err != nil {
		disp.Close()
		return nil, fmt.Errorf("LED strip SPI: %w", err)
	}
	strip, err := ledstrip.New(spi, cfg.StripLength)
	if err != nil {
		spi.Close()
		disp.Close()
		return nil, fmt.Errorf("LED strip: %w", err)
	}
	if err := strip.Write(0, Rainbow(cfg.StripLength)); err != nil {
		strip.Close()
		disp.Close()
		return nil, fmt.Errorf("LED strip init: %w", err)
	}

	debug.Step(3, "RGB LEDs off")
	if err := gpio.TurnOffRGB(drv, cfg.RGB); err != nil {
		// Cosmetic only.
		debug.ErrorMsg("Error turning off RGB LEDs", err)
	}

	return &Hat{display: disp, strip: strip}, nil
}

func (h *Hat) SetDisplayText(text string) error {
	return h.display.Display(text)
}

func (h *Hat) WriteLEDFrame(brightness uint8, colors []Color) error {
	return h.strip.Write(brightness, colors)
}

// Close blanks and releases the strip. The display keeps its last text.
func (h *Hat) Close() error {
	return errors.Join(h.strip.Close(), h.display.Release())
}
