package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/facesystem/gateway/internal/tracing"
)

// Handler processes one message body. Returning nil acks the message; an
// error marked with Permanent dead-letters it; any other error requeues it
// until the delivery budget is spent.
type Handler func(ctx context.Context, body []byte) error

// permanentError marks a handler error as non-retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Consumer reads one queue and dispatches deliveries to a Handler with manual
// acknowledgement. It reconnects with exponential backoff and jitter when the
// connection or channel drops.
type Consumer struct {
	client  *Client
	queue   string
	handler Handler
	metrics *Metrics
	logger  *slog.Logger

	// reconnectCount tracks consecutive reconnection attempts (atomic)
	reconnectCount int64
}

// NewConsumer creates a consumer for queue.
func NewConsumer(client *Client, queue string, handler Handler, metrics *Metrics, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:  client,
		queue:   queue,
		handler: handler,
		metrics: metrics,
		logger:  logger.With(slog.String("queue", queue)),
	}
}

// Run consumes until ctx is cancelled. In-flight handlers finish before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := atomic.AddInt64(&c.reconnectCount, 1)
		delay := c.client.computeBackoff(attempt - 1)
		c.metrics.IncReconnects(c.queue)
		c.logger.Warn("consumer session ended, scheduling reconnect",
			slog.Any("error", err),
			slog.Duration("delay", delay),
			slog.Int64("attempt", attempt))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one channel lifetime.
func (c *Consumer) session(ctx context.Context) error {
	ch, err := c.client.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	prefetch := c.client.Config().Prefetch
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	tag := fmt.Sprintf("%s-%d", c.queue, time.Now().UnixNano())
	deliveries, err := ch.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	// Reset reconnect count on successful subscription
	atomic.StoreInt64(&c.reconnectCount, 0)
	c.logger.Info("consumer subscribed", slog.Int("prefetch", prefetch))

	// Handlers run to completion even when ctx is cancelled mid-message.
	handlerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.handle(handlerCtx, d)
			}
		}()
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		// Stop new deliveries; the deliveries channel closes after the
		// buffered ones are handed out.
		_ = ch.Cancel(tag, false)
		wg.Wait()
		return ctx.Err()
	case amqpErr := <-closed:
		wg.Wait()
		if amqpErr != nil {
			return amqpErr
		}
		return errors.New("channel closed")
	}
}

// handle runs the handler for d and settles it.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	ctx, endSpan := tracing.StartConsumerSpan(ctx, c.queue, d.MessageId)
	err := c.invoke(ctx, d.Body)
	endSpan(err)
	result := settle(d, err, c.client.Config().MaxDeliveries)
	c.metrics.ObserveMessage(c.queue, result, time.Since(start).Seconds())

	if err != nil {
		level := slog.LevelWarn
		if result == ResultDeadLettered {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "audit message handling failed",
			slog.String("message_id", d.MessageId),
			slog.String("result", result),
			slog.Int64("attempt", deliveryAttempt(d, c.client.Config().MaxDeliveries)),
			slog.Any("error", err))
	}
}

// invoke calls the handler, converting a panic into a permanent error.
func (c *Consumer) invoke(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, body)
}

// settle acks, requeues or dead-letters d according to err and returns the result label.
func settle(d amqp.Delivery, err error, maxDeliveries int) string {
	var result string
	var ackErr error
	switch {
	case err == nil:
		result = ResultAcked
		ackErr = d.Ack(false)
	case IsPermanent(err), deliveryAttempt(d, maxDeliveries) >= int64(maxDeliveries):
		result = ResultDeadLettered
		ackErr = d.Nack(false, false)
	default:
		result = ResultRequeued
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		slog.Warn("failed to settle delivery",
			slog.String("message_id", d.MessageId),
			slog.String("result", result),
			slog.Any("error", ackErr))
	}
	return result
}

// deliveryAttempt returns the 1-based attempt number of d. Quorum queues count
// prior deliveries in x-delivery-count. Without that header a redelivered
// message is treated as being on its last attempt.
func deliveryAttempt(d amqp.Delivery, maxDeliveries int) int64 {
	if n, ok := headerInt(d.Headers["x-delivery-count"]); ok {
		return n + 1
	}
	if d.Redelivered {
		return max(2, int64(maxDeliveries))
	}
	return 1
}

func headerInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
