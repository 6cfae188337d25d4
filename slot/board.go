package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"slotleds/gpio"
)

// Board is the set of slots sharing one GPIO driver.
type Board struct {
	slots  []*Slot
	byName map[string]*Slot
}

// NewBoard opens every slot in order. Any failure fails the whole board;
// lines already opened stay with the driver until it is closed.
func NewBoard(d gpio.Driver, cfgs []Config, timing Timing, polarity Polarity, opts Options) (*Board, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("no slots configured")
	}

	b := &Board{byName: make(map[string]*Slot, len(cfgs))}
	for _, cfg := range cfgs {
		if _, dup := b.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate slot %q", cfg.Name)
		}

		s, err := Open(d, cfg, timing, polarity, opts)
		if err != nil {
			return nil, err
		}
		b.slots = append(b.slots, s)
		b.byName[cfg.Name] = s
	}
	return b, nil
}

// Run runs every slot loop until ctx is done. The loops share nothing.
func (b *Board) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range b.slots {
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	return g.Wait()
}

// Alive reports whether every slot loop went round within maxAge.
func (b *Board) Alive(maxAge time.Duration) bool {
	for _, s := range b.slots {
		if !s.Alive(maxAge) {
			return false
		}
	}
	return true
}

func (b *Board) Slots() []*Slot {
	out := make([]*Slot, len(b.slots))
	copy(out, b.slots)
	return out
}

func (b *Board) Slot(name string) (*Slot, error) {
	s, ok := b.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSlot, name)
	}
	return s, nil
}

func (b *Board) Statuses() []Status {
	out := make([]Status, 0, len(b.slots))
	for _, s := range b.slots {
		out = append(out, s.Status())
	}
	return out
}

func (b *Board) Status(name string) (Status, error) {
	s, err := b.Slot(name)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

func (b *Board) Press(name string) error {
	s, err := b.Slot(name)
	if err != nil {
		return err
	}
	s.Press()
	return nil
}

func (b *Board) SetInterval(name string, d time.Duration) error {
	s, err := b.Slot(name)
	if err != nil {
		return err
	}
	return s.SetInterval(d, SourceAPI)
}

func (b *Board) SetPower(name string, on bool) error {
	s, err := b.Slot(name)
	if err != nil {
		return err
	}
	return s.SetPower(on)
}

// ApplyConfig resets the interval of every slot named in cfgs. Pin changes
// need a restart and are ignored here.
func (b *Board) ApplyConfig(cfgs []Config) error {
	var errs []error
	for _, cfg := range cfgs {
		s, ok := b.byName[cfg.Name]
		if !ok {
			continue
		}
		if s.pins != cfg.Pins {
			s.log.Warn().Msg("Pin changes take effect after a restart")
		}
		if s.Interval() == cfg.Interval {
			continue
		}
		if err := s.SetInterval(cfg.Interval, SourceConfig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Board) Close() error {
	var errs []error
	for _, s := range b.slots {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close slot %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
