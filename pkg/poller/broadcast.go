package poller

import "sync"

// subscriberBuffer bounds how far a slow observer may lag before updates
// are dropped for it.
const subscriberBuffer = 8

// Broadcaster fans published statuses out to observers. Delivery is
// best-effort: a full subscriber channel drops the update rather than
// blocking the publisher, and zero subscribers is not an error.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Status]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Status]struct{})}
}

// Subscribe registers a new observer channel.
func (b *Broadcaster) Subscribe() chan Status {
	ch := make(chan Status, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes an observer channel.
func (b *Broadcaster) Unsubscribe(ch chan Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish delivers s to every observer that can take it immediately.
func (b *Broadcaster) Publish(s Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Count returns the number of registered observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
