package events

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 256

// Bus fans lifecycle events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string][]chan Event
	all     []chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events published on topic.
// A non-positive bufSize uses the default buffer.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.add(topic, bufSize)
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	return b.add("", bufSize)
}

func (b *Bus) add(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	if topic == "" {
		b.all = append(b.all, ch)
	} else {
		b.topics[topic] = append(b.topics[topic], ch)
	}
	return ch
}

// Publish delivers ev to subscribers of its topic and to SubscribeAll
// subscribers. A nil bus or a closed bus discards the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.topics[ev.Topic()] {
		b.send(ch, ev)
	}
	for _, ch := range b.all {
		b.send(ch, ev)
	}
}

func (b *Bus) send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, chans := range b.topics {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}
