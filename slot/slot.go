// Package slot drives the status LED triad and push-button of each media
// slot on the writer fixture.
package slot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"slotleds/gpio"
	"slotleds/metrics"
)

var (
	ErrUnknownSlot     = errors.New("unknown slot")
	ErrNotWired        = errors.New("pin not wired on this slot")
	ErrInvalidInterval = errors.New("invalid blink interval")
)

type Options struct {
	Clock clock.Clock
	// Publish receives every slot event. It must not block.
	Publish func(Event)
	Logger  *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Publish == nil {
		o.Publish = func(Event) {}
	}
	return o
}

type Slot struct {
	name     string
	pins     Pins
	timing   Timing
	polarity Polarity

	clock   clock.Clock
	publish func(Event)
	log     zerolog.Logger

	enable gpio.Line
	fault  gpio.Line
	button gpio.Line
	leds   []gpio.Line

	presses chan struct{}

	mu         sync.Mutex
	interval   time.Duration
	lit        bool
	power      bool
	pressCount uint64
	lastToggle time.Time
	lastPoll   time.Time
	running    bool
}

// Open exports the slot's pins: reader power off, fault flag and button as
// inputs, then the LEDs as outputs, all off. The first failure aborts.
func Open(d gpio.Driver, cfg Config, timing Timing, polarity Polarity, opts Options) (*Slot, error) {
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("slot %s: %w: %s", cfg.Name, ErrInvalidInterval, cfg.Interval)
	}
	opts = opts.withDefaults()

	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}

	s := &Slot{
		name:     cfg.Name,
		pins:     cfg.Pins,
		timing:   timing,
		polarity: polarity,
		clock:    opts.Clock,
		publish:  opts.Publish,
		log:      base.With().Str("component", "slot").Str("slot", cfg.Name).Logger(),
		presses:  make(chan struct{}, 1),
		interval: cfg.Interval,
	}

	open := func(role string, n int, dir gpio.Direction, high bool) (gpio.Line, error) {
		line, err := d.Open(n, dir, high)
		if err != nil {
			return nil, fmt.Errorf("slot %s %s pin: %w", cfg.Name, role, err)
		}
		return line, nil
	}

	var err error
	if cfg.Pins.HasEnable() {
		if s.enable, err = open("enable", cfg.Pins.Enable, gpio.Out, false); err != nil {
			return nil, err
		}
	}
	if cfg.Pins.HasFault() {
		if s.fault, err = open("fault", cfg.Pins.Fault, gpio.In, false); err != nil {
			return nil, err
		}
	}
	if s.button, err = open("button", cfg.Pins.Button, gpio.In, false); err != nil {
		return nil, err
	}

	off := s.ledLevel(false)
	for _, led := range []struct {
		role string
		n    int
	}{
		{"red", cfg.Pins.Red},
		{"green", cfg.Pins.Green},
		{"blue", cfg.Pins.Blue},
	} {
		line, err := open(led.role, led.n, gpio.Out, off)
		if err != nil {
			return nil, err
		}
		s.leds = append(s.leds, line)
	}

	metrics.SetInterval(s.name, s.interval)
	metrics.SetLit(s.name, false)
	s.log.Debug().Dur("interval", s.interval).Msg("Slot opened")
	return s, nil
}

func (s *Slot) Name() string { return s.name }

// Run blinks the LEDs and polls the button until ctx is done.
func (s *Slot) Run(ctx context.Context) error {
	s.restart(s.clock.Now())
	s.log.Info().Dur("interval", s.Interval()).Msg("Blinking")

	for {
		now := s.clock.Now()
		s.beat(now)
		s.blink(now)

		timer := s.clock.Timer(s.timing.Poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.stopped()
			return nil
		case <-timer.C:
		}

		s.checkButton()
	}
}

// restart turns the LEDs off and starts a fresh interval at now.
func (s *Slot) restart(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLEDs(false)
	s.lastToggle = now
}

func (s *Slot) beat(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = now
	s.running = true
}

func (s *Slot) stopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Alive reports whether the loop is running and went round within maxAge.
func (s *Slot) Alive(maxAge time.Duration) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && now.Sub(s.lastPoll) <= maxAge
}

// blink flips the LEDs once the interval has passed. A zero interval
// toggles on every call.
func (s *Slot) blink(now time.Time) {
	s.mu.Lock()
	due := s.interval == 0 || now.Sub(s.lastToggle) > s.interval
	if !due {
		s.mu.Unlock()
		return
	}
	s.lastToggle = now
	s.writeLEDs(!s.lit)
	ev := s.eventLocked(EventToggle, "")
	s.mu.Unlock()

	metrics.RecordToggle(s.name, ev.Lit)
	s.publish(ev)
}

// writeLEDs drives all three colors and records the state. Callers hold mu.
func (s *Slot) writeLEDs(on bool) error {
	level := s.ledLevel(on)
	var errs []error
	for _, led := range s.leds {
		if err := led.Write(level); err != nil {
			metrics.RecordGPIOError(s.name, "led")
			s.log.Err(err).Int("gpio", led.Number()).Msg("LED write failed")
			errs = append(errs, err)
		}
	}
	s.lit = on
	return errors.Join(errs...)
}

func (s *Slot) ledLevel(on bool) bool {
	return on != s.polarity.LEDActiveLow
}

// checkButton applies one press if the button is held or an API press is
// pending. Holding the button steps the interval on every poll.
func (s *Slot) checkButton() {
	level, err := s.button.Read()
	if err != nil {
		metrics.RecordGPIOError(s.name, "button")
		s.log.Err(err).Msg("Button read failed")
	}

	if err == nil && level != s.polarity.ButtonActiveLow {
		s.applyPress(SourceButton)
		return
	}

	select {
	case <-s.presses:
		s.applyPress(SourceAPI)
	default:
	}
}

func (s *Slot) applyPress(source Source) {
	s.mu.Lock()
	if s.interval > 0 {
		s.interval -= s.timing.Step
		if s.interval < 0 {
			s.interval = 0
		}
	} else {
		s.interval = s.timing.Reset
	}
	s.pressCount++
	ev := s.eventLocked(EventPress, source)
	interval := s.interval
	s.mu.Unlock()

	metrics.RecordPress(s.name, string(source))
	metrics.SetInterval(s.name, interval)
	s.log.Info().Str("source", string(source)).Dur("interval", interval).Msg("Button press")
	s.publish(ev)
}

// Press queues one virtual button press for the next poll. Presses beyond
// the one pending are dropped.
func (s *Slot) Press() {
	select {
	case s.presses <- struct{}{}:
	default:
		s.log.Debug().Msg("Press already pending, dropped")
	}
}

func (s *Slot) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Slot) SetInterval(d time.Duration, source Source) error {
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}

	s.mu.Lock()
	s.interval = d
	ev := s.eventLocked(EventInterval, source)
	s.mu.Unlock()

	metrics.SetInterval(s.name, d)
	s.log.Info().Str("source", string(source)).Dur("interval", d).Msg("Interval set")
	s.publish(ev)
	return nil
}

// SetPower switches the reader's 5V supply.
func (s *Slot) SetPower(on bool) error {
	if s.enable == nil {
		return fmt.Errorf("slot %s enable: %w", s.name, ErrNotWired)
	}

	s.mu.Lock()
	if err := s.enable.Write(on); err != nil {
		s.mu.Unlock()
		metrics.RecordGPIOError(s.name, "enable")
		return fmt.Errorf("slot %s power: %w", s.name, err)
	}
	s.power = on
	ev := s.eventLocked(EventPower, SourceAPI)
	s.mu.Unlock()

	s.log.Info().Bool("on", on).Msg("Reader power")
	s.publish(ev)
	return nil
}

func (s *Slot) Status() Status {
	s.mu.Lock()
	st := Status{
		Name:       s.name,
		IntervalMS: s.interval.Milliseconds(),
		Lit:        s.lit,
		Presses:    s.pressCount,
		LastToggle: s.lastToggle,
	}
	if s.enable != nil {
		power := s.power
		st.Power = &power
	}
	s.mu.Unlock()

	if s.fault != nil {
		level, err := s.fault.Read()
		if err != nil {
			metrics.RecordGPIOError(s.name, "fault")
			s.log.Err(err).Msg("Fault flag read failed")
		} else {
			faulted := level != s.polarity.FaultActiveLow
			st.Fault = &faulted
		}
	}
	return st
}

// Close leaves the LEDs dark and the reader unpowered.
func (s *Slot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := []error{s.writeLEDs(false)}
	metrics.SetLit(s.name, false)
	if s.enable != nil {
		errs = append(errs, s.enable.Write(false))
		s.power = false
	}
	return errors.Join(errs...)
}

func (s *Slot) eventLocked(kind EventKind, source Source) Event {
	return Event{
		Slot:       s.name,
		Kind:       kind,
		Lit:        s.lit,
		IntervalMS: s.interval.Milliseconds(),
		Power:      s.power,
		Source:     source,
		Time:       s.clock.Now(),
	}
}
