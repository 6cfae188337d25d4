//go:build !nogpio

package gpio

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func init() {
	register("periph", func(o Options) (Driver, error) {
		return newPeriph(o.logger("periph"))
	})
}

// periphDriver looks lines up by global number in the periph registry.
type periphDriver struct {
	log zerolog.Logger

	set  lineSet
	mu   sync.Mutex
	pins []pgpio.PinIO
}

func newPeriph(logger zerolog.Logger) (*periphDriver, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	for _, failure := range state.Failed {
		logger.Debug().Str("driver", failure.D.String()).Err(failure.Err).Msg("Periph driver failed to load")
	}
	return &periphDriver{log: logger}, nil
}

func (d *periphDriver) Name() string { return "periph" }

func (d *periphDriver) Open(n int, dir Direction, high bool) (Line, error) {
	if err := d.set.claim(n); err != nil {
		return nil, err
	}

	pin := gpioreg.ByName(strconv.Itoa(n))
	if pin == nil {
		d.set.release(n)
		return nil, fmt.Errorf("gpio %d: %w", n, ErrNoSuchLine)
	}

	var err error
	if dir == Out {
		err = pin.Out(periphLevel(high))
	} else {
		err = pin.In(pgpio.PullNoChange, pgpio.NoEdge)
	}
	if err != nil {
		d.set.release(n)
		return nil, fmt.Errorf("gpio %d direction %s: %w", n, dir, err)
	}

	d.mu.Lock()
	d.pins = append(d.pins, pin)
	d.mu.Unlock()

	return &periphLine{d: d, n: n, pin: pin, dir: dir}, nil
}

func (d *periphDriver) Close() error {
	if !d.set.close() {
		return nil
	}

	d.mu.Lock()
	pins := d.pins
	d.pins = nil
	d.mu.Unlock()

	var errs []error
	for _, pin := range pins {
		if err := pin.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt %s: %w", pin.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func periphLevel(high bool) pgpio.Level {
	if high {
		return pgpio.High
	}
	return pgpio.Low
}

type periphLine struct {
	d   *periphDriver
	n   int
	pin pgpio.PinIO
	dir Direction
}

func (l *periphLine) Number() int { return l.n }

func (l *periphLine) Read() (bool, error) {
	if l.d.set.isClosed() {
		return false, ErrClosed
	}
	return l.pin.Read() == pgpio.High, nil
}

func (l *periphLine) Write(high bool) error {
	if l.d.set.isClosed() {
		return ErrClosed
	}
	if l.dir != Out {
		return fmt.Errorf("write gpio %d: %w", l.n, ErrNotOutput)
	}
	return l.pin.Out(periphLevel(high))
}
