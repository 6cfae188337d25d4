//go:build linux && !nogpio

package gpio

import (
	"errors"
	"fmt"
	"sync"

	cdev "github.com/mkch/gpio"
	"github.com/rs/zerolog"
)

const consumer = "slotleds"

func init() {
	register("cdev", func(o Options) (Driver, error) {
		return &cdevDriver{
			linesPerChip: o.LinesPerChip,
			log:          o.logger("cdev"),
		}, nil
	})
}

// cdevDriver requests lines from /dev/gpiochipN. Global line n lives on chip
// n/linesPerChip at offset n%linesPerChip.
type cdevDriver struct {
	linesPerChip int
	log          zerolog.Logger

	set   lineSet
	mu    sync.Mutex
	lines []*cdevLine
}

func (d *cdevDriver) Name() string { return "cdev" }

func (d *cdevDriver) chipPath(n int) (string, uint32) {
	return fmt.Sprintf("/dev/gpiochip%d", n/d.linesPerChip), uint32(n % d.linesPerChip)
}

func (d *cdevDriver) Open(n int, dir Direction, high bool) (Line, error) {
	if err := d.set.claim(n); err != nil {
		return nil, err
	}

	line, err := d.open(n, dir, high)
	if err != nil {
		d.set.release(n)
		return nil, fmt.Errorf("gpio %d: %w", n, err)
	}

	d.mu.Lock()
	d.lines = append(d.lines, line)
	d.mu.Unlock()
	return line, nil
}

func (d *cdevDriver) open(n int, dir Direction, high bool) (*cdevLine, error) {
	path, offset := d.chipPath(n)
	chip, err := cdev.OpenChip(path)
	if err != nil {
		return nil, err
	}
	// The requested line stays valid after the chip handle is closed.
	defer chip.Close()

	flags := cdev.Input
	var initial byte
	if dir == Out {
		flags = cdev.Output
		if high {
			initial = 1
		}
	}

	l, err := chip.OpenLine(offset, initial, flags, consumer)
	if err != nil {
		return nil, err
	}
	d.log.Debug().Int("gpio", n).Str("chip", path).Uint32("offset", offset).Msg("Line requested")
	return &cdevLine{d: d, n: n, line: l, dir: dir}, nil
}

func (d *cdevDriver) Close() error {
	if !d.set.close() {
		return nil
	}

	d.mu.Lock()
	lines := d.lines
	d.lines = nil
	d.mu.Unlock()

	var errs []error
	for _, l := range lines {
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release gpio %d: %w", l.n, err))
		}
	}
	return errors.Join(errs...)
}

type cdevLine struct {
	d    *cdevDriver
	n    int
	line *cdev.Line
	dir  Direction
}

func (l *cdevLine) Number() int { return l.n }

func (l *cdevLine) Read() (bool, error) {
	if l.d.set.isClosed() {
		return false, ErrClosed
	}
	v, err := l.line.Value()
	if err != nil {
		return false, fmt.Errorf("read gpio %d: %w", l.n, err)
	}
	return v != 0, nil
}

func (l *cdevLine) Write(high bool) error {
	if l.d.set.isClosed() {
		return ErrClosed
	}
	if l.dir != Out {
		return fmt.Errorf("write gpio %d: %w", l.n, ErrNotOutput)
	}
	var v byte
	if high {
		v = 1
	}
	return l.line.SetValue(v)
}
