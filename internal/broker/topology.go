package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Audit topology names.
const (
	Exchange     = "audit.exchange"
	DeadLetterX  = "audit.dlx"
	DeadLetterQ  = "audit.dlq"
	PersistQueue = "audit.persist.queue"
	SearchQueue  = "audit.search.queue"
	AlertQueue   = "audit.alert.queue"
)

// Queues lists the audit work queues bound to Exchange.
var Queues = []string{PersistQueue, SearchQueue, AlertQueue}

// Declarer is the subset of *amqp.Channel used to declare topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// queueArgs returns the declaration arguments of a work queue.
func queueArgs(cfg Config) amqp.Table {
	args := amqp.Table{
		"x-dead-letter-exchange": DeadLetterX,
		"x-queue-type":           cfg.QueueType,
	}
	if cfg.QueueType == QueueTypeQuorum {
		args["x-delivery-limit"] = int64(cfg.MaxDeliveries)
	}
	return args
}

// DeclareTopology declares the fan-out exchange, the dead-letter exchange and
// queue, and the three durable work queues. Declarations are idempotent, but
// changing arguments of an existing queue is rejected by the broker.
func DeclareTopology(ch Declarer, cfg Config) error {
	for _, x := range []string{DeadLetterX, Exchange} {
		if err := ch.ExchangeDeclare(x, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", x, err)
		}
	}

	if _, err := ch.QueueDeclare(DeadLetterQ, true, false, false, false, amqp.Table{"x-queue-type": cfg.QueueType}); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQ, err)
	}
	if err := ch.QueueBind(DeadLetterQ, "", DeadLetterX, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", DeadLetterQ, err)
	}

	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, queueArgs(cfg)); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, "", Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}
