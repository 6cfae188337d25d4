package gpio

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

func init() {
	register("simulated", func(o Options) (Driver, error) {
		l := o.logger("simulated")
		l.Debug().Msg("GPIO will be simulated")
		return NewSimulated(l), nil
	})
}

// Simulated keeps line levels in memory. Inputs read high until SetInput
// says otherwise, like a line with a pull-up.
type Simulated struct {
	log zerolog.Logger

	mu      sync.Mutex
	set     lineSet
	levels  map[int]bool
	dirs    map[int]Direction
	writes  map[int]int
	failing map[int]error
}

func NewSimulated(logger zerolog.Logger) *Simulated {
	return &Simulated{
		log:     logger,
		levels:  make(map[int]bool),
		dirs:    make(map[int]Direction),
		writes:  make(map[int]int),
		failing: make(map[int]error),
	}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Open(n int, dir Direction, high bool) (Line, error) {
	s.mu.Lock()
	err := s.failing[n]
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("export gpio %d: %w", n, err)
	}

	if err := s.set.claim(n); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirs[n] = dir
	if dir == Out {
		s.levels[n] = high
	} else if _, preset := s.levels[n]; !preset {
		s.levels[n] = true
	}
	return &simulatedLine{s: s, n: n}, nil
}

func (s *Simulated) Close() error {
	if s.set.close() {
		s.log.Debug().Msg("Simulated GPIO closing")
	}
	return nil
}

// SetInput drives the level seen by reads of line n.
func (s *Simulated) SetInput(n int, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[n] = high
}

// Level reports the current level of line n and whether it was opened.
func (s *Simulated) Level(n int) (high bool, opened bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, opened = s.dirs[n]
	return s.levels[n], opened
}

// Direction reports the direction line n was opened with.
func (s *Simulated) Direction(n int) Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[n]
}

// Writes counts writes made to line n after it was opened.
func (s *Simulated) Writes(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[n]
}

// FailOpen makes opening line n fail with err.
func (s *Simulated) FailOpen(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[n] = err
}

type simulatedLine struct {
	s *Simulated
	n int
}

func (l *simulatedLine) Number() int { return l.n }

func (l *simulatedLine) Read() (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if l.s.set.isClosed() {
		return false, ErrClosed
	}
	return l.s.levels[l.n], nil
}

func (l *simulatedLine) Write(high bool) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if l.s.set.isClosed() {
		return ErrClosed
	}
	if l.s.dirs[l.n] != Out {
		return fmt.Errorf("write gpio %d: %w", l.n, ErrNotOutput)
	}
	l.s.levels[l.n] = high
	l.s.writes[l.n]++
	l.s.log.Trace().Int("gpio", l.n).Bool("high", high).Msg("GPIO")
	return nil
}
