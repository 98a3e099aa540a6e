package main

import (
	"context"
	"sync"
)

// URCBus fans the URC lines of the modem out to every subscribed client.
type URCBus struct {
	mu   sync.RWMutex
	subs map[chan string]struct{}
}

func NewURCBus() *URCBus {
	return &URCBus{subs: make(map[chan string]struct{})}
}

// Subscribe registers a client. The returned function unsubscribes it and
// closes the channel.
func (b *URCBus) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends line to all subscribers. A subscriber whose buffer is full
// misses the line.
func (b *URCBus) Publish(line string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Len returns the number of subscribers.
func (b *URCBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Run publishes everything received on urcs until ctx is done or urcs is
// closed.
func (b *URCBus) Run(ctx context.Context, urcs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-urcs:
			if !ok {
				return
			}
			b.Publish(line)
		}
	}
}
