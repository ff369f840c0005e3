package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus implements Bus with in-process channels. Used for testing
// and single-process development runs.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]*memorySubscription
	closed bool
}

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySubscription)}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := make([]byte, len(payload))
	copy(msg, payload)
	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- msg:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memorySubscription{bus: b, channel: channel, ch: make(chan []byte, 64)}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*memorySubscription)
	return nil
}

type memorySubscription struct {
	bus     *MemoryBus
	channel string
	ch      chan []byte
}

func (s *memorySubscription) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
