package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrUnavailable is returned when the broker cannot be reached or refuses a message.
var ErrUnavailable = errors.New("broker unavailable")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("broker client closed")

// Client owns one AMQP connection and re-dials it lazily after it drops.
// Channels are opened per publisher and per consumer.
type Client struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand // protected by mu
	conn   *amqp.Connection
	closed bool
}

// NewClient creates a broker client. It does not dial; the first Channel call does.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// connection returns the live connection, dialing a new one if needed.
func (c *Client) connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	props := amqp.NewConnectionProperties()
	if c.config.ConnectionName != "" {
		props.SetClientConnectionName(c.config.ConnectionName)
	}
	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{
		Heartbeat:  c.config.Heartbeat,
		Locale:     "en_US",
		Properties: props,
		Dial:       amqp.DefaultDial(c.config.DialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrUnavailable, err)
	}
	c.conn = conn
	c.logger.Info("connected to broker")
	return conn, nil
}

// Channel opens a new channel on the shared connection.
func (c *Client) Channel(ctx context.Context) (*amqp.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", ErrUnavailable, err)
	}
	return ch, nil
}

// DeclareTopology declares the audit exchanges and queues on a short-lived channel.
func (c *Client) DeclareTopology(ctx context.Context) error {
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()
	return DeclareTopology(ch, c.config)
}

// IsConnected reports whether the connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Ping reports an error unless a connection is open or can be opened.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.connection()
	return err
}

// Close closes the connection. Further Channel calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// computeBackoff calculates the reconnection delay for the given attempt with
// exponential backoff and jitter.
func (c *Client) computeBackoff(attempt int64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Cap the shift at 30 to prevent overflow (2^30 = ~1 billion)
	shift := uint(attempt)
	if shift > 30 {
		shift = 30
	}
	backoff := float64(c.config.BaseDelay) * float64(uint64(1)<<shift)

	if backoff > float64(c.config.MaxDelay) {
		backoff = float64(c.config.MaxDelay)
	}

	// Apply jitter: range of [delay*(1-jitter/2), delay*(1+jitter/2)]
	if c.config.JitterFactor > 0 {
		jitter := (c.rng.Float64() - 0.5) * c.config.JitterFactor
		backoff = backoff * (1 + jitter)
	}

	return time.Duration(backoff)
}
