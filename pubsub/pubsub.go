// Package pubsub fans values out to any number of buffered subscribers.
package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type SubscriptionID int64

type Pubsub[T any] struct {
	mu          sync.RWMutex
	nextID      SubscriptionID
	subscribers map[SubscriptionID]*subscriber[T]
	log         zerolog.Logger
}

type subscriber[T any] struct {
	ch      chan T
	dropped atomic.Uint64
	// behind is set from the first drop until a message gets through.
	behind atomic.Bool
}

func New[T any]() *Pubsub[T] {
	return &Pubsub[T]{
		subscribers: make(map[SubscriptionID]*subscriber[T]),
		log:         log.With().Str("component", "pubsub").Logger(),
	}
}

// Subscribe returns a channel holding up to buffer undelivered values.
func (ps *Pubsub[T]) Subscribe(buffer int) (SubscriptionID, <-chan T) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sub := &subscriber[T]{ch: make(chan T, buffer)}
	id := ps.nextID
	ps.subscribers[id] = sub
	ps.nextID++

	return id, sub.ch
}

// Unsubscribe closes the subscriber's channel. Unknown IDs are ignored.
func (ps *Pubsub[T]) Unsubscribe(id SubscriptionID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sub, ok := ps.subscribers[id]
	if !ok {
		return
	}
	delete(ps.subscribers, id)
	close(sub.ch)
}

// Publish never blocks: a subscriber whose buffer is full misses msg. A
// warning is logged once each time a subscriber starts falling behind.
func (ps *Pubsub[T]) Publish(msg T) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for id, sub := range ps.subscribers {
		select {
		case sub.ch <- msg:
			sub.behind.Store(false)
		default:
			n := sub.dropped.Add(1)
			if !sub.behind.Swap(true) {
				ps.log.Warn().
					Int64("subscription_id", int64(id)).
					Uint64("dropped_total", n).
					Msg("Subscriber falling behind, dropping messages")
			}
		}
	}
}

// Dropped counts the messages subscriber id has missed.
func (ps *Pubsub[T]) Dropped(id SubscriptionID) uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if sub, ok := ps.subscribers[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

func (ps *Pubsub[T]) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers)
}
