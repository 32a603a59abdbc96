package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNacked is returned when the broker negatively acknowledges a publish.
var ErrNacked = errors.New("publish not confirmed by broker")

// Message is one outbound message.
type Message struct {
	ID          string // AMQP message-id; the audit request id
	ContentType string
	Body        []byte
	Timestamp   time.Time
}

// Publisher publishes persistent messages to the audit exchange on a
// confirm-mode channel. Publishes are issued in call order; confirms are
// awaited concurrently.
type Publisher struct {
	client   *Client
	exchange string
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel // protected by mu
}

// NewPublisher creates a publisher for exchange.
func NewPublisher(client *Client, exchange string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:   client,
		exchange: exchange,
		timeout:  client.Config().PublishTimeout,
		logger:   logger,
	}
}

// channel returns the confirm-mode channel, opening it if needed. Caller holds mu.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.client.Channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: enable confirms: %v", ErrUnavailable, err)
	}
	p.ch = ch
	return ch, nil
}

// reset drops ch so the next publish opens a fresh channel.
func (p *Publisher) reset(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		_ = ch.Close()
		p.ch = nil
		p.logger.Debug("publisher channel reset", slog.String("exchange", p.exchange))
	}
}

// Publish sends msg and waits for the broker confirm. Any failure is
// reported as ErrUnavailable.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p.mu.Lock()
	ch, err := p.channel(ctx)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    ts,
		Body:         msg.Body,
	})
	p.mu.Unlock()
	if err != nil {
		p.reset(ch)
		return fmt.Errorf("%w: publish: %v", ErrUnavailable, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		p.reset(ch)
		return fmt.Errorf("%w: await confirm: %v", ErrUnavailable, err)
	}
	if !acked {
		return fmt.Errorf("%w: %w", ErrUnavailable, ErrNacked)
	}
	return nil
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
