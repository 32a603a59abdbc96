// Package pipeline delivers audit events from the gateway: to the broker
// exchange normally, and straight to the relational store when the broker
// cannot take them.
package pipeline

import (
	"context"
	"fmt"

	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/broker"
)

// Sink delivers one audit event somewhere durable.
type Sink interface {
	Send(ctx context.Context, e *audit.Event) error
	Name() string
}

// Sink names used in logs and metric labels.
const (
	SinkBroker = "broker"
	SinkDirect = "direct"
)

// MessagePublisher is satisfied by *broker.Publisher.
type MessagePublisher interface {
	Publish(ctx context.Context, msg broker.Message) error
}

// BrokerSink publishes JSON-encoded events to the audit fan-out exchange.
type BrokerSink struct {
	publisher MessagePublisher
}

// NewBrokerSink creates a BrokerSink.
func NewBrokerSink(publisher MessagePublisher) *BrokerSink {
	return &BrokerSink{publisher: publisher}
}

// Name returns SinkBroker.
func (s *BrokerSink) Name() string { return SinkBroker }

// Send encodes e and publishes it with the request id as message id.
func (s *BrokerSink) Send(ctx context.Context, e *audit.Event) error {
	body, err := audit.Encode(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return s.publisher.Publish(ctx, broker.Message{
		ID:          e.RequestID,
		ContentType: "application/json",
		Body:        body,
		Timestamp:   e.Timestamp.Time,
	})
}

// DirectSink writes events to the relational store through the same path the
// persist consumer uses.
type DirectSink struct {
	repo audit.Repository
}

// NewDirectSink creates a DirectSink.
func NewDirectSink(repo audit.Repository) *DirectSink {
	return &DirectSink{repo: repo}
}

// Name returns SinkDirect.
func (s *DirectSink) Name() string { return SinkDirect }

// Send persists e. A duplicate request id is not an error.
func (s *DirectSink) Send(ctx context.Context, e *audit.Event) error {
	_, err := audit.Persist(ctx, s.repo, e)
	return err
}
