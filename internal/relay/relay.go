// Package relay is the per-worker status fan-out subscriber. One
// background task owns the subscriber connection and is the sole writer
// of the process-local status value; readers take an atomic snapshot, so
// the hot read path carries no locks.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/galnet/marketsync/internal/bus"
	"github.com/galnet/marketsync/internal/metrics"
	"github.com/galnet/marketsync/internal/model"
)

const (
	// DefaultStaleAfter is how long the worker tolerates silence before
	// locally marking itself offline, independent of the daemon's view.
	DefaultStaleAfter = 60 * time.Second

	// DefaultHeartbeatEvery is the cadence of local liveness pushes to
	// in-process consumers, sent regardless of new data.
	DefaultHeartbeatEvery = 1 * time.Second

	DefaultReceiveTimeout = 1 * time.Second
)

// Relay holds the last-known status for one worker process.
type Relay struct {
	Bus            bus.Bus
	StaleAfter     time.Duration
	HeartbeatEvery time.Duration
	ReceiveTimeout time.Duration

	status atomic.Pointer[model.StatusRecord]

	mu        sync.Mutex
	listeners []chan model.StatusRecord
}

// New creates a relay in the starting state.
func New(b bus.Bus) *Relay {
	r := &Relay{
		Bus:            b,
		StaleAfter:     DefaultStaleAfter,
		HeartbeatEvery: DefaultHeartbeatEvery,
		ReceiveTimeout: DefaultReceiveTimeout,
	}
	r.status.Store(&model.StatusRecord{State: model.StateStarting})
	return r
}

// Status returns a snapshot of the last-known status.
func (r *Relay) Status() model.StatusRecord {
	return *r.status.Load()
}

// Subscribe registers a local consumer. It receives the current status at
// least every HeartbeatEvery, so idle observers still see liveness.
// Slow consumers miss pushes rather than blocking the relay.
func (r *Relay) Subscribe() <-chan model.StatusRecord {
	ch := make(chan model.StatusRecord, 8)
	r.mu.Lock()
	r.listeners = append(r.listeners, ch)
	r.mu.Unlock()
	return ch
}

// Run drains the status channel until the context is canceled. It is the
// sole writer of the status value. On silence beyond StaleAfter it marks
// the worker offline and reconnects.
func (r *Relay) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(r.HeartbeatEvery)
	defer heartbeat.Stop()

	for ctx.Err() == nil {
		sub, err := r.Bus.Subscribe(ctx, bus.StatusChannel)
		if err != nil {
			slog.Warn("status subscribe failed, retrying", "err", err)
			r.markOffline()
			if !sleepCtx(ctx, 2*time.Second) {
				return nil
			}
			continue
		}

		r.drain(ctx, sub, heartbeat.C)
		sub.Close()
	}
	return nil
}

// drain owns one subscriber connection until it goes stale or the context
// ends.
func (r *Relay) drain(ctx context.Context, sub bus.Subscription, heartbeat <-chan time.Time) {
	lastMsg := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat:
			r.push(r.Status())
		default:
		}

		payload, err := sub.Receive(ctx, r.ReceiveTimeout)
		switch {
		case err == nil:
			var rec model.StatusRecord
			if jerr := json.Unmarshal(payload, &rec); jerr != nil {
				slog.Warn("dropping malformed status", "err", jerr)
				continue
			}
			if rec.ReceivedAt.IsZero() {
				rec.ReceivedAt = time.Now().UTC()
			}
			// Wholesale replacement, never a field-level merge.
			r.status.Store(&rec)
			lastMsg = time.Now()
		case errors.Is(err, bus.ErrTimeout):
		case ctx.Err() != nil:
			return
		default:
			slog.Warn("status receive failed", "err", err)
		}

		age := time.Since(lastMsg)
		metrics.StatusAge.Set(age.Seconds())
		if age > r.StaleAfter {
			slog.Warn("status stale, marking offline and reconnecting",
				"age", age.Round(time.Second))
			r.markOffline()
			return
		}
	}
}

func (r *Relay) markOffline() {
	r.status.Store(&model.StatusRecord{
		State:      model.StateOffline,
		ReceivedAt: time.Now().UTC(),
	})
}

func (r *Relay) push(rec model.StatusRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.listeners {
		select {
		case ch <- rec:
		default:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
