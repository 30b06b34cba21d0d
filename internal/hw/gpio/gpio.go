package gpio

import (
	"github.com/cjeanneret/SmileGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// SPIBus is a write-only SPI channel (the LED strip never answers).
type SPIBus interface {
	Transmit(data []byte) error
	Close() error
}

// Driver defines the abstract interface for controlling GPIOs and the SPI bus.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	OpenSPI(speedHz int) (SPIBus, error)
	Close() error
}

// MockDriver is a test implementation that simply logs actions.
// Used for development on PC or testing.
type MockDriver struct{}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	return Low, nil
}

func (m *MockDriver) OpenSPI(speedHz int) (SPIBus, error) {
	debug.Trace("SPI open (mock) speed=%dHz", speedHz)
	return mockSPI{}, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

type mockSPI struct{}

func (mockSPI) Transmit(data []byte) error {
	debug.Bus("SPI", data)
	return nil
}

func (mockSPI) Close() error { return nil }

// RGBLEDs holds the pins of the three discrete status LEDs.
type RGBLEDs struct {
	Red, Green, Blue int
}

// TurnOffRGB drives the status LEDs to their inactive level.
// The LEDs are wired active-low: a HIGH pin means off.
func TurnOffRGB(d Driver, leds RGBLEDs) error {
	for _, pin := range []int{leds.Red, leds.Green, leds.Blue} {
		if pin <= 0 {
			continue
		}
		if err := d.SetupPin(pin, Output); err != nil {
			return err
		}
		if err := d.WritePin(pin, High); err != nil {
			return err
		}
	}
	return nil
}
