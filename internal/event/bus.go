package event

import (
	"errors"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity. The relay must never
// block the goroutines observing the subprocess, so when a subscriber stalls
// long enough to fill its buffer the oldest pending events are shed to make
// room; per-channel ordering and the newest events are always preserved.
const DefaultBuffer = 256

var ErrBusClosed = errors.New("event bus is closed")

// Bus fans lifecycle events out to per-channel subscribers. Every send and
// every close happens under the bus mutex: sends are non-blocking, so holding
// the lock is cheap, and it guarantees Unsubscribe/RemoveAll/Close can never
// close a channel that Publish is about to send on.
type Bus struct {
	mu     sync.Mutex
	subs   map[Channel]map[chan Event]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Channel]map[chan Event]struct{})}
}

// Subscribe registers a new subscriber for one allowlisted channel.
func (b *Bus) Subscribe(c Channel) (chan Event, error) {
	if !c.Valid() {
		return nil, errors.New("unknown channel: " + string(c))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	ch := make(chan Event, DefaultBuffer)
	if b.subs[c] == nil {
		b.subs[c] = make(map[chan Event]struct{})
	}
	b.subs[c][ch] = struct{}{}
	return ch, nil
}

// Unsubscribe removes a single subscriber and closes its channel.
func (b *Bus) Unsubscribe(c Channel, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[c]
	if _, present := set[ch]; present {
		delete(set, ch)
		close(ch)
	}
}

// RemoveAll drops every subscriber of the given channel. Unknown channels
// are a no-op so the bridge can map removeAllListeners straight through.
func (b *Bus) RemoveAll(c Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[c] {
		close(ch)
	}
	delete(b.subs, c)
}

// Subscribers reports the current subscriber count for a channel.
func (b *Bus) Subscribers(c Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[c])
}

// Publish delivers e to every subscriber of its channel without ever
// blocking: a full subscriber loses its oldest pending event to make room.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.subs[e.Channel] {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = make(map[Channel]map[chan Event]struct{})
}
