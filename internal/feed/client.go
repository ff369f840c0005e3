package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTimeout is returned by Next when no frame arrived within the window.
// The caller uses the idle gap to run periodic work (flush checks).
var ErrTimeout = errors.New("no frame within timeout")

// Redial backoff bounds. The caller's loop retries Next immediately after
// an error, so the wait lives here, next to the dial.
const (
	dialBackoffMin = 1 * time.Second
	dialBackoffMax = 30 * time.Second
)

type frameResult struct {
	data []byte
	err  error
}

// Client is a restartable subscriber connection to the firehose endpoint.
// A background goroutine owns the socket reads; Next waits on it with a
// timeout, since a websocket read error (deadline included) poisons the
// connection. Not safe for concurrent use; the adapter's single loop owns
// it.
type Client struct {
	url    string
	dialer *websocket.Dialer

	conn    *websocket.Conn
	frames  chan frameResult
	done    chan struct{}
	backoff time.Duration // wait before the next dial; zero after a success
}

// NewClient creates a client for the given endpoint. No connection is made
// until the first Next call.
func NewClient(url string) *Client {
	return &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Next returns the next raw frame, redialing first if disconnected.
// Returns ErrTimeout when the window elapses with no frame. Any other
// error leaves the client disconnected; the following call reconnects.
func (c *Client) Next(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if c.conn == nil {
		if c.backoff > 0 {
			wait := time.NewTimer(c.backoff)
			select {
			case <-wait.C:
			case <-ctx.Done():
				wait.Stop()
				return nil, ctx.Err()
			}
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.backoff *= 2
			if c.backoff < dialBackoffMin {
				c.backoff = dialBackoffMin
			}
			if c.backoff > dialBackoffMax {
				c.backoff = dialBackoffMax
			}
			return nil, err
		}
		c.backoff = 0
		c.conn = conn
		c.frames = make(chan frameResult, 64)
		c.done = make(chan struct{})
		go readLoop(conn, c.frames, c.done)
		slog.Info("feed connected", "url", c.url)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case fr := <-c.frames:
		if fr.err != nil {
			c.teardown()
			return nil, fr.err
		}
		return fr.data, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop feeds frames from one connection until it errors or the client
// tears it down.
func readLoop(conn *websocket.Conn, frames chan<- frameResult, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case frames <- frameResult{data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Close tears down the connection. Pending frames are discarded; prompt
// shutdown wins over message durability.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.teardown()
}

func (c *Client) teardown() error {
	close(c.done)
	err := c.conn.Close()
	c.conn = nil
	return err
}
