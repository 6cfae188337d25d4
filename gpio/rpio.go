//go:build !nogpio

package gpio

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stianeikeland/go-rpio/v4"
)

// Highest BCM line on the BCM2835 family.
const rpioMaxLine = 53

func init() {
	register("rpio", func(o Options) (Driver, error) {
		return newRpio(o.logger("rpio"))
	})
}

// rpioDriver maps the BCM GPIO registers through /dev/gpiomem.
type rpioDriver struct {
	log zerolog.Logger

	set  lineSet
	mu   sync.Mutex
	pins []rpio.Pin
}

func newRpio(logger zerolog.Logger) (*rpioDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("rpio open: %w", err)
	}
	return &rpioDriver{log: logger}, nil
}

func (d *rpioDriver) Name() string { return "rpio" }

func (d *rpioDriver) Open(n int, dir Direction, high bool) (Line, error) {
	if n > rpioMaxLine {
		return nil, fmt.Errorf("%w: %d is not a BCM line", ErrInvalidLine, n)
	}
	if err := d.set.claim(n); err != nil {
		return nil, err
	}

	pin := rpio.Pin(n)
	if dir == Out {
		pin.Output()
		writeRpio(pin, high)
	} else {
		pin.Input()
	}

	d.mu.Lock()
	d.pins = append(d.pins, pin)
	d.mu.Unlock()

	return &rpioLine{d: d, pin: pin, dir: dir}, nil
}

// Close returns every opened pin to input before unmapping the registers.
func (d *rpioDriver) Close() error {
	if !d.set.close() {
		return nil
	}

	d.mu.Lock()
	for _, pin := range d.pins {
		pin.Input()
	}
	d.pins = nil
	d.mu.Unlock()

	return rpio.Close()
}

func writeRpio(pin rpio.Pin, high bool) {
	if high {
		pin.High()
	} else {
		pin.Low()
	}
}

type rpioLine struct {
	d   *rpioDriver
	pin rpio.Pin
	dir Direction
}

func (l *rpioLine) Number() int { return int(l.pin) }

func (l *rpioLine) Read() (bool, error) {
	if l.d.set.isClosed() {
		return false, ErrClosed
	}
	return l.pin.Read() == rpio.High, nil
}

func (l *rpioLine) Write(high bool) error {
	if l.d.set.isClosed() {
		return ErrClosed
	}
	if l.dir != Out {
		return fmt.Errorf("write gpio %d: %w", l.pin, ErrNotOutput)
	}
	writeRpio(l.pin, high)
	return nil
}
