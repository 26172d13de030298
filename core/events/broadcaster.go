package events

import (
	"sync"

	"anchorledger/core/types"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans payload events out to any number of subscribers. Slow
// subscribers lose events rather than blocking the emitter.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	buffer  int
	dropped uint64
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold up to
// buffer pending events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{subs: make(map[uint64]chan *types.Event), buffer: buffer}
}

// Subscribe registers a new subscriber. The cancel func closes the channel.
func (b *Broadcaster) Subscribe() (<-chan *types.Event, func()) {
	ch := make(chan *types.Event, b.buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements the Emitter interface. Events that cannot render a payload
// are ignored.
func (b *Broadcaster) Emit(evt Event) {
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- rendered:
		default:
			b.dropped++
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
