package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/facesystem/gateway/internal/audit"
)

// BreakerConfig configures the circuit breaker guarding the primary sink.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold uint32

	// Timeout is the duration in open state before transitioning to half-open.
	Timeout time.Duration

	// MaxRequests is the number of requests allowed in half-open state.
	MaxRequests uint32
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

// Publisher sends events to a primary sink and degrades to a fallback sink
// when the primary fails. While the breaker is open the primary is skipped,
// so a dead broker costs no connect timeout on the request path.
// It implements audit.Publisher and never returns an error.
type Publisher struct {
	primary  Sink
	fallback Sink
	breaker  *gobreaker.CircuitBreaker[struct{}]
	metrics  *Metrics
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. primary may be nil, in which case every
// event goes to fallback.
func NewPublisher(primary, fallback Sink, cfg BreakerConfig, metrics *Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}

	p := &Publisher{
		primary:  primary,
		fallback: fallback,
		metrics:  metrics,
		logger:   logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-broker",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Invalid events say nothing about broker health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, audit.ErrInvalidEvent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.metrics.setBreakerOpen(to == gobreaker.StateOpen)
			logger.Warn("audit broker circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return p
}

// Publish delivers e. Errors are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, e *audit.Event) {
	if p.primary != nil {
		_, err := p.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, p.primary.Send(ctx, e)
		})
		if err == nil {
			p.metrics.incPublished(p.primary.Name())
			p.logger.DebugContext(ctx, "audit event published",
				slog.String("sink", p.primary.Name()),
				slog.String("action", e.Action))
			return
		}

		level := slog.LevelWarn
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			level = slog.LevelDebug
		}
		p.logger.Log(ctx, level, "audit broker unavailable, falling back to direct write",
			slog.String("error", err.Error()))
		p.metrics.incFallback()
	}

	if err := p.fallback.Send(ctx, e); err != nil {
		p.metrics.incFailure()
		p.logger.ErrorContext(ctx, "audit event lost: fallback write failed",
			slog.String("sink", p.fallback.Name()),
			slog.String("action", e.Action),
			slog.String("error", err.Error()))
		return
	}
	p.metrics.incPublished(p.fallback.Name())
}

// BreakerState returns the current breaker state.
func (p *Publisher) BreakerState() gobreaker.State {
	return p.breaker.State()
}
