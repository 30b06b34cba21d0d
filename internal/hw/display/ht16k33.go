package display

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"golang.org/x/sys/unix"
)

// HT16K33 command bytes.
const (
	cmdOscillatorOn = 0x21
	cmdDisplaySetup = 0x80
	cmdDisplayOn    = 0x01
	cmdBrightness   = 0xE0

	// MaxBrightness is the largest dimming step (16 steps).
	MaxBrightness = 15

	// Digits is the number of 14-segment characters on the display.
	Digits = 4

	// DefaultAddress is the I2C address of the Rainbow HAT display.
	DefaultAddress = 0x70

	i2cSlave = 0x0703 // ioctl: set the slave address for the next transfers
)

// Bus is a raw I2C channel bound to one device address.
type Bus interface {
	Write(p []byte) (int, error)
	Close() error
}

// Alphanumeric drives a 4-digit 14-segment display behind an HT16K33.
type Alphanumeric struct {
	mu  sync.Mutex
	bus Bus
}

// NewAlphanumeric switches the oscillator on and prepares the display.
func NewAlphanumeric(bus Bus) (*Alphanumeric, error) {
	d := &Alphanumeric{bus: bus}
	if err := d.command(cmdOscillatorOn); err != nil {
		return nil, fmt.Errorf("start oscillator: %w", err)
	}
	return d, nil
}

// SetBrightness sets the dimming step (0-15).
func (d *Alphanumeric) SetBrightness(level int) error {
	if level < 0 || level > MaxBrightness {
		return fmt.Errorf("brightness must be between 0 and %d, got %d", MaxBrightness, level)
	}
	return d.command(cmdBrightness | byte(level))
}

// SetEnabled turns the display on (no blink) or off.
func (d *Alphanumeric) SetEnabled(on bool) error {
	cmd := byte(cmdDisplaySetup)
	if on {
		cmd |= cmdDisplayOn
	}
	return d.command(cmd)
}

// Clear blanks all digits.
func (d *Alphanumeric) Clear() error {
	return d.Display("")
}

// Display shows text, left aligned. Text longer than the display keeps
// its last characters, so the low digits of a large counter stay visible.
// A '.' following a character lights that digit's decimal point.
func (d *Alphanumeric) Display(text string) error {
	return d.writeRAM(Render(text))
}

// Close blanks the display, turns it off and releases the bus.
func (d *Alphanumeric) Close() error {
	_ = d.Clear()
	_ = d.SetEnabled(false)
	return d.bus.Close()
}

// Release frees the bus and leaves the last text lit.
func (d *Alphanumeric) Release() error {
	return d.bus.Close()
}

func (d *Alphanumeric) command(c byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	debug.Bus("I2C", []byte{c})
	_, err := d.bus.Write([]byte{c})
	return err
}

func (d *Alphanumeric) writeRAM(digits [Digits]uint16) error {
	buf := make([]byte, 1, 1+2*Digits)
	buf[0] = 0x00 // display RAM start address
	for _, seg := range digits {
		buf = append(buf, byte(seg&0xFF), byte(seg>>8))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	debug.Bus("I2C", buf)
	_, err := d.bus.Write(buf)
	return err
}

// Render converts text to per-digit segment masks.
func Render(text string) [Digits]uint16 {
	var cells []uint16
	for _, r := range strings.ToUpper(text) {
		if r == '.' && len(cells) > 0 && cells[len(cells)-1]&segDot == 0 {
			cells[len(cells)-1] |= segDot
			continue
		}
		cells = append(cells, glyph(r))
	}
	if len(cells) > Digits {
		cells = cells[len(cells)-Digits:]
	}

	var out [Digits]uint16
	copy(out[:], cells)
	return out
}

// i2cDevice is a Linux i2c-dev character device bound to one address.
type i2cDevice struct {
	f *os.File
}

// OpenI2C opens an i2c-dev bus (e.g. /dev/i2c-1) and selects addr.
func OpenI2C(path string, addr int) (Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w (is I2C enabled?)", path, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, addr); err != nil {
		f.Close()
		return nil, fmt.Errorf("select I2C address %#x: %w", addr, err)
	}
	debug.Verbose("I2C bus %s opened, device %#x", path, addr)
	return &i2cDevice{f: f}, nil
}

func (d *i2cDevice) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

func (d *i2cDevice) Close() error {
	return d.f.Close()
}

// mockBus logs I2C traffic instead of touching hardware.
type mockBus struct{}

// MockBus returns a Bus for development on PC.
func MockBus() Bus { return mockBus{} }

func (mockBus) Write(p []byte) (int, error) {
	debug.Bus("I2C", p)
	return len(p), nil
}

func (mockBus) Close() error { return nil }
