package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
	spi  bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupPin(pin, mode)
}

func (r *RPiDriver) setupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.setupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.setupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// OpenSPI claims SPI0 (CE0) for output. Only one bus may be open at a time.
func (r *RPiDriver) OpenSPI(speedHz int) (SPIBus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.spi {
		return nil, fmt.Errorf("SPI0 already in use")
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return nil, fmt.Errorf("failed to begin SPI0: %w (is SPI enabled in config.txt?)", err)
	}
	if speedHz > 0 {
		rpio.SpiSpeed(speedHz)
	}
	rpio.SpiChipSelect(0)
	r.spi = true

	debug.Verbose("SPI0 opened at %d Hz", speedHz)
	return &rpiSPI{drv: r}, nil
}

func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.Trace("GPIO Close (real driver)")

	if r.spi {
		rpio.SpiEnd(rpio.Spi0)
		r.spi = false
	}

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}

type rpiSPI struct {
	drv *RPiDriver
}

func (s *rpiSPI) Transmit(data []byte) error {
	s.drv.mu.Lock()
	defer s.drv.mu.Unlock()
	if !s.drv.spi {
		return fmt.Errorf("SPI0 is closed")
	}
	debug.Bus("SPI", data)

	// SpiTransmit overwrites the buffer with the received bytes.
	buf := make([]byte, len(data))
	copy(buf, data)
	rpio.SpiTransmit(buf...)
	return nil
}

func (s *rpiSPI) Close() error {
	s.drv.mu.Lock()
	defer s.drv.mu.Unlock()
	if s.drv.spi {
		rpio.SpiEnd(rpio.Spi0)
		s.drv.spi = false
	}
	return nil
}
