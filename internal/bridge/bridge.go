package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/galnet/marketsync/internal/bus"
)

const receiveTimeout = 1 * time.Second

// Bridge subscribes to the status channel and feeds every message to the
// hub. It runs as its own process, typically on the host serving browser
// dashboards.
type Bridge struct {
	Bus bus.Bus
	Hub *Hub
}

// New creates a bridge over an already-connected bus.
func New(b bus.Bus, hub *Hub) *Bridge {
	return &Bridge{Bus: b, Hub: hub}
}

// Run re-publishes status messages until the context is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		sub, err := b.Bus.Subscribe(ctx, bus.StatusChannel)
		if err != nil {
			slog.Warn("status subscribe failed, retrying", "err", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for ctx.Err() == nil {
			payload, err := sub.Receive(ctx, receiveTimeout)
			if errors.Is(err, bus.ErrTimeout) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("status receive failed, resubscribing", "err", err)
				}
				break
			}
			b.Hub.Broadcast(StampReceiveTime(payload, time.Now().UTC()))
		}
		sub.Close()
	}
	return nil
}

// StampReceiveTime adds a received_at field when the payload lacks one.
// Everything else passes through verbatim; a payload that is not a JSON
// object is forwarded untouched.
func StampReceiveTime(payload []byte, now time.Time) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}
	if raw, ok := obj["received_at"]; ok && len(raw) > 0 && string(raw) != `""` && string(raw) != "null" &&
		string(raw) != `"0001-01-01T00:00:00Z"` {
		return payload
	}
	ts, err := json.Marshal(now)
	if err != nil {
		return payload
	}
	obj["received_at"] = ts
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}
