package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryBus_FanOut(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, StatusChannel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s2, err := b.Subscribe(ctx, StatusChannel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, StatusChannel, []byte(`{"state":"running"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i, sub := range []Subscription{s1, s2} {
		payload, err := sub.Receive(ctx, time.Second)
		if err != nil {
			t.Fatalf("subscriber %d receive: %v", i, err)
		}
		if string(payload) != `{"state":"running"}` {
			t.Errorf("subscriber %d got %q", i, payload)
		}
	}
}

func TestMemoryBus_ChannelsAreIsolated(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, HeartbeatChannel)
	b.Publish(ctx, StatusChannel, []byte("wrong channel"))

	if _, err := sub.Receive(ctx, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestMemoryBus_ReceiveTimeout(t *testing.T) {
	b := NewMemoryBus()
	sub, _ := b.Subscribe(context.Background(), StatusChannel)

	start := time.Now()
	_, err := sub.Receive(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("returned before the timeout window elapsed")
	}
}

func TestMemoryBus_ReceiveHonorsContext(t *testing.T) {
	b := NewMemoryBus()
	sub, _ := b.Subscribe(context.Background(), StatusChannel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Receive(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryBus_ClosedSubscriptionStopsReceiving(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, StatusChannel)
	sub.Close()

	b.Publish(ctx, StatusChannel, []byte("after close"))
	if _, err := sub.Receive(ctx, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("closed subscription still receives: %v", err)
	}
}

func TestMemoryBus_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	b.Subscribe(ctx, StatusChannel) // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Publish(ctx, StatusChannel, []byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
