// Package gpio requests GPIO lines through one of several interchangeable
// backends: sysfs, the character device, periph.io, Raspberry Pi register
// access, or an in-memory simulation.
package gpio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	ErrUnknownDriver = errors.New("unknown gpio driver")
	ErrInvalidLine   = errors.New("invalid gpio line")
	ErrNoSuchLine    = errors.New("no such gpio line")
	ErrLineBusy      = errors.New("gpio line already requested")
	ErrNotOutput     = errors.New("gpio line is not an output")
	ErrClosed        = errors.New("gpio driver closed")
)

type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Line is a single requested GPIO line. Levels are electrical: true is high.
type Line interface {
	Number() int
	Read() (bool, error)
	Write(high bool) error
}

type Driver interface {
	Name() string
	// Open exports (or requests) line number, sets its direction and, for
	// outputs, its initial level.
	Open(number int, dir Direction, high bool) (Line, error)
	// Close releases every line opened through the driver.
	Close() error
}

const (
	DefaultSysfsRoot     = "/sys/class/gpio"
	DefaultExportTimeout = time.Second
	DefaultLinesPerChip  = 32
)

type Options struct {
	// Fs and SysfsRoot locate the sysfs GPIO class directory.
	Fs            afero.Fs
	SysfsRoot     string
	ExportTimeout time.Duration

	// LinesPerChip maps global line numbers onto gpiochip devices.
	LinesPerChip int

	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.SysfsRoot == "" {
		o.SysfsRoot = DefaultSysfsRoot
	}
	if o.ExportTimeout <= 0 {
		o.ExportTimeout = DefaultExportTimeout
	}
	if o.LinesPerChip <= 0 {
		o.LinesPerChip = DefaultLinesPerChip
	}
	return o
}

func (o Options) logger(driver string) zerolog.Logger {
	base := log.Logger
	if o.Logger != nil {
		base = *o.Logger
	}
	return base.With().Str("component", "gpio").Str("driver", driver).Logger()
}

type factory func(Options) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]factory{}
)

func register(name string, f factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New opens the named driver.
func New(name string, opts Options) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownDriver, name, Drivers())
	}

	return f(opts.withDefaults())
}

// Drivers lists the driver names compiled into this binary.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lineSet tracks which line numbers a driver has handed out.
type lineSet struct {
	mu     sync.Mutex
	lines  map[int]struct{}
	closed bool
}

func (ls *lineSet) claim(n int) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLine, n)
	}
	if ls.lines == nil {
		ls.lines = make(map[int]struct{})
	}
	if _, busy := ls.lines[n]; busy {
		return fmt.Errorf("gpio %d: %w", n, ErrLineBusy)
	}
	ls.lines[n] = struct{}{}
	return nil
}

func (ls *lineSet) release(n int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.lines, n)
}

// close marks the set closed and reports whether it was open.
func (ls *lineSet) close() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return false
	}
	ls.closed = true
	ls.lines = nil
	return true
}

func (ls *lineSet) isClosed() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.closed
}
