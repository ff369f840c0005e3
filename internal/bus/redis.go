package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis pub/sub.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

// DialRedis tries each candidate address in priority order and returns a
// bus on the first address that answers a ping. Used by the bridge, which
// may run on a different host than the daemon.
func DialRedis(ctx context.Context, addrs []string) (*RedisBus, error) {
	var lastErr error
	for _, addr := range addrs {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			lastErr = err
			rdb.Close()
			continue
		}
		return NewRedisBus(rdb), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate addresses")
	}
	return nil, fmt.Errorf("dial redis: %w", lastErr)
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	// Force the SUBSCRIBE handshake so a dead server fails here, not on
	// the first Receive.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &redisSubscription{ps: ps}, nil
}

func (b *RedisBus) Close() error { return b.rdb.Close() }

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	for {
		v, err := s.ps.ReceiveTimeout(ctx, timeout)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrTimeout
			}
			return nil, err
		}
		switch m := v.(type) {
		case *redis.Message:
			return []byte(m.Payload), nil
		default:
			// Subscription confirmations and pongs are not payloads.
			continue
		}
	}
}

func (s *redisSubscription) Close() error { return s.ps.Close() }
