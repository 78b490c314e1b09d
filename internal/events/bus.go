package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Envelope tags a payload with its topic for subscribers of several topics.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// SubscribeMany merges several topics into one channel of Envelopes.
func (b *Bus) SubscribeMany(topics []Event, buffer int) (<-chan Envelope, func()) {
	out := make(chan Envelope, buffer)
	var wg sync.WaitGroup
	unsubs := make([]func(), 0, len(topics))
	for _, e := range topics {
		ch, unsub := b.Subscribe(e, buffer)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func(e Event, ch <-chan any) {
			defer wg.Done()
			for p := range ch {
				select {
				case out <- Envelope{Event: e, Payload: p}:
				default:
					b.dropped.Add(1)
				}
			}
		}(e, ch)
	}
	var once sync.Once
	return out, func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			wg.Wait()
			close(out)
		})
	}
}

// Publish fan-outs the payload to subscribers asynchronously to avoid blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep broker non-blocking
			b.dropped.Add(1)
		}
	}
}

// Dropped is the number of payloads discarded because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
