package streamclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/streamfan/errors"
)

// Client manages one NATS connection and its JetStream context.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient creates an unconnected client for the given server URL.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "empty server url")
	}

	c := &Client{
		url:           url,
		name:          "streamfan",
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	return c, nil
}

// Connect establishes the NATS connection and JetStream context.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	conn, err := nats.Connect(c.url,
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		// The broker may come up after us; keep retrying instead of failing
		// startup.
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("stream connection lost", "url", c.url, "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("stream connection restored", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", fmt.Sprintf("connect to %s", c.url))
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "Client", "Connect", "create jetstream context")
	}

	c.conn = conn
	c.js = js
	c.logger.Debug("stream client connected", "url", c.url)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// IsConnected reports connection health.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Publisher binds the client to a destination subject.
func (c *Client) Publisher(subject string) *Publisher {
	return &Publisher{client: c, subject: subject}
}

// Close drains the connection, flushing anything buffered client-side.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("drain failed, closing hard", "url", c.url, "error", err)
		c.conn.Close()
	}
	c.conn = nil
	c.js = nil
}

// Publisher sends batches of encoded messages to one destination subject.
type Publisher struct {
	client  *Client
	subject string
}

// Subject returns the bound destination subject.
func (p *Publisher) Subject() string {
	return p.subject
}

// Close drains the underlying connection. Each destination owns its client,
// so closing the publisher tears the connection down.
func (p *Publisher) Close() {
	p.client.Close()
}

// SendBatch publishes every message in the batch to the destination subject,
// synchronously from the caller's perspective, stopping at the first error.
// Messages published before the failure are already durable; the caller's
// drop policy covers the remainder.
func (p *Publisher) SendBatch(ctx context.Context, batch [][]byte) error {
	p.client.mu.RLock()
	js := p.client.js
	p.client.mu.RUnlock()

	if js == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "Publisher", "SendBatch", "get jetstream context")
	}

	for i, data := range batch {
		if _, err := js.Publish(ctx, p.subject, data); err != nil {
			return errors.WrapTransient(err, "Publisher", "SendBatch",
				fmt.Sprintf("publish message %d/%d to %s", i+1, len(batch), p.subject))
		}
	}
	return nil
}
