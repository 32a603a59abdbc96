// Package consumer turns broker deliveries from the audit queues into writes
// against the relational store, the search index and the alert engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/broker"
	"github.com/facesystem/gateway/internal/search"
)

// DocumentIndexer stores search documents.
type DocumentIndexer interface {
	IndexEvent(ctx context.Context, e *audit.Event) error
}

// Evaluator runs alert rules. It never fails.
type Evaluator interface {
	Evaluate(ctx context.Context, e *audit.Event)
}

// decode parses body. Undecodable and invalid events can never succeed, so
// they are permanent.
func decode(body []byte) (*audit.Event, error) {
	e, err := audit.Decode(body)
	if err != nil {
		return nil, broker.Permanent(err)
	}
	return e, nil
}

// Persist writes each event to the relational audit trail. Duplicate request
// ids are acknowledged without a second row.
func Persist(repo audit.Repository, logger *slog.Logger) broker.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, body []byte) error {
		e, err := decode(body)
		if err != nil {
			return err
		}
		inserted, err := audit.Persist(ctx, repo, e)
		if err != nil {
			if errors.Is(err, audit.ErrInvalidEvent) {
				return broker.Permanent(err)
			}
			return fmt.Errorf("persist %s: %w", e.RequestID, err)
		}
		if !inserted {
			logger.DebugContext(ctx, "duplicate audit event skipped", slog.String("request_id", e.RequestID))
		}
		return nil
	}
}

// Index projects each event into the search index. Requests the search store
// rejects are permanent; unavailability is retried.
func Index(indexer DocumentIndexer, logger *slog.Logger) broker.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, body []byte) error {
		e, err := decode(body)
		if err != nil {
			return err
		}
		if err := indexer.IndexEvent(ctx, e); err != nil {
			if errors.Is(err, search.ErrRejected) {
				return broker.Permanent(err)
			}
			return fmt.Errorf("index %s: %w", e.RequestID, err)
		}
		logger.DebugContext(ctx, "audit event indexed",
			slog.String("request_id", e.RequestID),
			slog.String("action", e.Action))
		return nil
	}
}

// Alert feeds each event to the alert engine. Alerts are advisory: once the
// body decodes, the message is always acknowledged.
func Alert(engine Evaluator) broker.Handler {
	return func(ctx context.Context, body []byte) error {
		e, err := decode(body)
		if err != nil {
			return err
		}
		engine.Evaluate(ctx, e)
		return nil
	}
}
