// Package bus abstracts the publish/subscribe channels that carry
// heartbeat and status payloads between the adapter, the daemon, the
// workers, and the bridge. Redis pub/sub is the production transport;
// an in-memory implementation backs the tests.
package bus

import (
	"context"
	"errors"
	"time"
)

// Channel names shared by every role.
const (
	HeartbeatChannel = "marketsync:heartbeat"
	StatusChannel    = "marketsync:status"
)

// ErrTimeout is returned by Subscription.Receive when no message arrived
// within the given window. Callers treat it as "nothing yet", not failure.
var ErrTimeout = errors.New("receive timed out")

// Bus publishes payloads and opens subscriptions on named channels.
// Delivery is at-most-once fan-out: every open subscription sees every
// published payload, nothing is replayed to late subscribers.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription is one subscriber connection to a channel.
type Subscription interface {
	// Receive blocks until the next payload, the timeout (ErrTimeout),
	// or context cancellation.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}
