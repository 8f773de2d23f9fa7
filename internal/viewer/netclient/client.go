package netclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/wire"
)

const maxReconnectDelay = 10 * time.Second

// Client connects to an agent's Unix Domain Socket and streams
// classified Incoming events to Out until ctx is cancelled,
// reconnecting with exponential backoff on any disconnect.
type Client struct {
	SockPath string
	Stream   string // label attached to every Incoming, for multi-agent callers
	Out      chan<- Incoming
	Log      *slog.Logger
}

// Run connects and serves until ctx is done, reconnecting on failure
// with backoff that resets to 1s after any successful connection.
func (c *Client) Run(ctx context.Context) error {
	delay := time.Second
	for {
		connectedOK, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connectedOK {
			delay = time.Second
		}
		if c.Log != nil {
			c.Log.Warn("netclient disconnected", "stream", c.Stream, "err", err, "retry_in", delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) (connectedOK bool, err error) {
	var d net.Dialer
	conn, dialErr := d.DialContext(ctx, "unix", c.SockPath)
	if dialErr != nil {
		c.send(ctx, errIncoming(c.Stream, fmt.Sprintf("connect uds %s: %v", c.SockPath, dialErr)))
		c.send(ctx, disconnected(c.Stream))
		return false, dialErr
	}
	defer conn.Close()

	c.send(ctx, connected(c.Stream))

	enc := wire.NewEncoder(conn)
	if err := enc.Encode(wire.HelloMsg()); err != nil {
		c.send(ctx, errIncoming(c.Stream, fmt.Sprintf("send hello: %v", err)))
		c.send(ctx, disconnected(c.Stream))
		return true, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	dec := wire.NewDecoder(conn)
	for {
		m, decErr := dec.Decode()
		if decErr != nil {
			if ctx.Err() != nil {
				c.send(ctx, disconnected(c.Stream))
				return true, ctx.Err()
			}
			c.send(ctx, errIncoming(c.Stream, fmt.Sprintf("stream error: %v", decErr)))
			c.send(ctx, disconnected(c.Stream))
			return true, decErr
		}
		c.send(ctx, classify(c.Stream, m))
	}
}

// send is a blocking send guarded by ctx: unlike the agent's Bus, the
// viewer has exactly one reader, and a dropped Snapshot or Identity
// would leave it stuck with no data, so we never drop here — only give
// up once the caller has cancelled.
func (c *Client) send(ctx context.Context, inc Incoming) {
	select {
	case c.Out <- inc:
	case <-ctx.Done():
	}
}
