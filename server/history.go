package server

import (
	"context"

	"slotleds/circularbuffer"
	"slotleds/pubsub"
	"slotleds/slot"
)

const DefaultHistorySize = 256

// History keeps the most recent slot events.
type History struct {
	events *circularbuffer.CircularBuffer[slot.Event]
}

func NewHistory(size int) *History {
	return &History{events: circularbuffer.New[slot.Event](size)}
}

func (h *History) Record(ev slot.Event) {
	h.events.Push(ev)
}

// Events returns the stored events, oldest first.
func (h *History) Events() []slot.Event {
	return h.events.Snapshot()
}

// Run records everything published on ps until ctx is done.
func (h *History) Run(ctx context.Context, ps *pubsub.Pubsub[slot.Event]) error {
	id, ch := ps.Subscribe(64)
	defer ps.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			h.Record(ev)
		}
	}
}
