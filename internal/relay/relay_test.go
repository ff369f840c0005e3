package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/galnet/marketsync/internal/bus"
	"github.com/galnet/marketsync/internal/model"
)

func newTestRelay(b bus.Bus) *Relay {
	r := New(b)
	r.StaleAfter = 150 * time.Millisecond
	r.HeartbeatEvery = 20 * time.Millisecond
	r.ReceiveTimeout = 10 * time.Millisecond
	return r
}

func publishStatus(t *testing.T, b bus.Bus, rec model.StatusRecord) {
	t.Helper()
	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := b.Publish(context.Background(), bus.StatusChannel, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func waitForState(t *testing.T, r *Relay, state string, wait time.Duration) model.StatusRecord {
	t.Helper()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if rec := r.Status(); rec.State == state {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never became %q, last = %+v", state, r.Status())
	return model.StatusRecord{}
}

func TestRelay_StartsInStartingState(t *testing.T) {
	r := New(bus.NewMemoryBus())
	if got := r.Status().State; got != model.StateStarting {
		t.Errorf("initial state = %q", got)
	}
}

func TestRelay_WholesaleReplacement(t *testing.T) {
	b := bus.NewMemoryBus()
	r := newTestRelay(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Wait for the subscription before publishing.
	time.Sleep(30 * time.Millisecond)

	publishStatus(t, b, model.StatusRecord{
		State: model.StateError, OwnerPID: 11, Message: "flush failed",
	})
	rec := waitForState(t, r, model.StateError, time.Second)
	if rec.Message != "flush failed" || rec.OwnerPID != 11 {
		t.Errorf("first record = %+v", rec)
	}
	if rec.ReceivedAt.IsZero() {
		t.Error("relay must stamp received_at when absent")
	}

	// The next record replaces everything; no field-level merge, so the
	// previous message must not leak through.
	publishStatus(t, b, model.StatusRecord{State: model.StateRunning, OwnerPID: 11})
	rec = waitForState(t, r, model.StateRunning, time.Second)
	if rec.Message != "" {
		t.Errorf("stale message survived replacement: %+v", rec)
	}
}

func TestRelay_MarksOfflineWhenStale(t *testing.T) {
	b := bus.NewMemoryBus()
	r := newTestRelay(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	publishStatus(t, b, model.StatusRecord{State: model.StateRunning, OwnerPID: 11})
	waitForState(t, r, model.StateRunning, time.Second)

	// Silence beyond StaleAfter flips the local view to offline.
	waitForState(t, r, model.StateOffline, time.Second)
}

func TestRelay_LocalHeartbeatFeedsSubscribers(t *testing.T) {
	b := bus.NewMemoryBus()
	r := newTestRelay(b)
	ch := r.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// No bus traffic at all: subscribers still see periodic liveness.
	seen := 0
	timeout := time.After(time.Second)
	for seen < 2 {
		select {
		case <-ch:
			seen++
		case <-timeout:
			t.Fatalf("saw %d local heartbeats, want 2", seen)
		}
	}
}

func TestRelay_MalformedStatusDropped(t *testing.T) {
	b := bus.NewMemoryBus()
	r := newTestRelay(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	b.Publish(context.Background(), bus.StatusChannel, []byte("not json"))
	publishStatus(t, b, model.StatusRecord{State: model.StateRunning})

	rec := waitForState(t, r, model.StateRunning, time.Second)
	if rec.State != model.StateRunning {
		t.Errorf("state = %q", rec.State)
	}
}
