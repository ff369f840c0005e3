package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/galnet/marketsync/internal/feed"
	"github.com/galnet/marketsync/internal/metrics"
	"github.com/galnet/marketsync/internal/model"
	"github.com/galnet/marketsync/internal/store"
)

// FrameSource yields raw firehose frames. feed.Client is the production
// implementation; tests feed frames from a slice.
type FrameSource interface {
	Next(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

const (
	receiveTimeout    = 1 * time.Second
	heartbeatInterval = 5 * time.Second
)

// Runner is the adapter's single-threaded cooperative loop: receive one
// frame with a short timeout, route it, flush on the interval, announce
// heartbeats. No two flushes can interleave because the loop owns both
// buffers.
type Runner struct {
	Source      FrameSource
	Store       store.Store
	Commodities *CommodityBuffer
	Powers      *PowerBuffer
	Interval    time.Duration
	Policy      CommitPolicy

	// Announce publishes a heartbeat; nil disables announcements.
	Announce func(model.StatusRecord)

	state      string
	message    string
	lastDB     time.Time
	lastFlush  time.Time
	lastAnnoun time.Time
}

// NewRunner wires a runner with fresh buffers and automatic commits.
func NewRunner(source FrameSource, st store.Store, interval time.Duration) *Runner {
	return &Runner{
		Source:      source,
		Store:       st,
		Commodities: NewCommodityBuffer(),
		Powers:      NewPowerBuffer(),
		Interval:    interval,
		Policy:      AutoCommit{},
	}
}

// Run processes frames until the context is canceled, then performs one
// final best-effort flush before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.state = model.StateConnecting
	r.lastFlush = time.Now()
	r.announce()

	for {
		select {
		case <-ctx.Done():
			r.finalFlush()
			return nil
		default:
		}

		frame, err := r.Source.Next(ctx, receiveTimeout)
		switch {
		case err == nil:
			r.route(frame)
			if r.state == model.StateConnecting {
				r.state = model.StateRunning
			}
		case errors.Is(err, feed.ErrTimeout):
			// Idle window; fall through to the flush check.
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			r.finalFlush()
			return nil
		default:
			slog.Warn("feed receive failed, will reconnect", "err", err)
			r.state = model.StateConnecting
		}

		if time.Since(r.lastFlush) >= r.Interval {
			r.flush(ctx)
			r.lastFlush = time.Now()
		}
		if time.Since(r.lastAnnoun) >= heartbeatInterval {
			r.announce()
		}
	}
}

// route classifies one frame and hands it to the matching buffer.
// A bad frame fails alone; the stream never aborts.
func (r *Runner) route(frame []byte) {
	decoded, err := feed.Decode(frame)
	if err != nil {
		metrics.FramesSkipped.WithLabelValues("decode").Inc()
		slog.Debug("dropped undecodable frame", "err", err)
		return
	}
	metrics.FramesTotal.WithLabelValues(decoded.Kind.String()).Inc()

	switch decoded.Kind {
	case feed.KindCommodity:
		if feed.ExcludedStationType(decoded.Commodity.StationType) {
			metrics.FramesSkipped.WithLabelValues("carrier").Inc()
			return
		}
		r.Commodities.Accept(decoded.Commodity)
	case feed.KindPower:
		if decoded.Power == nil {
			metrics.FramesSkipped.WithLabelValues("ambiguous_power").Inc()
			return
		}
		r.Powers.Accept(*decoded.Power)
	}
}

// flush drains commodities then power. A persistence error is logged as
// critical and the failing buffer retries next cycle.
func (r *Runner) flush(ctx context.Context) {
	stats, err := r.Commodities.Flush(ctx, r.Store, r.Policy)
	if err != nil {
		slog.Error("commodity flush failed, buffer retained", "err", err)
		r.state = model.StateError
		r.message = "flush failed"
		r.announce()
		return
	}

	changed, err := r.Powers.Flush(ctx, r.Store)
	if err != nil {
		slog.Error("power flush failed, buffer retained", "err", err)
		r.state = model.StateError
		r.message = "flush failed"
		r.announce()
		return
	}

	if stats.StationsUpdated > 0 || changed > 0 {
		r.lastDB = time.Now().UTC()
		slog.Info("flushed",
			"stations", stats.StationsUpdated,
			"commodities", stats.CommoditiesWritten,
			"powers_changed", changed)
	}
	if r.state == model.StateError {
		r.state = model.StateRunning
		r.message = ""
	}
	r.announce()
}

func (r *Runner) finalFlush() {
	// Best effort on shutdown; a fresh context since ours is canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.flush(ctx)
	slog.Info("final flush complete")
}

func (r *Runner) announce() {
	r.lastAnnoun = time.Now()
	if r.Announce == nil {
		return
	}
	r.Announce(model.StatusRecord{
		State:        r.state,
		LastDBUpdate: r.lastDB,
		Message:      r.message,
	})
}
