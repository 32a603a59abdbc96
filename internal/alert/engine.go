package alert

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/tracing"
)

// Engine runs every rule against each event and delivers what fires.
// Evaluation is best-effort: rule and delivery failures are logged and counted,
// never returned.
type Engine struct {
	rules    []Rule
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger
}

// NewEngine creates an engine. Rules are evaluated in the given order.
func NewEngine(rules []Rule, notifier Notifier, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, notifier: notifier, metrics: metrics, logger: logger}
}

// Evaluate applies every rule to e.
func (en *Engine) Evaluate(ctx context.Context, e *audit.Event) {
	for _, rule := range en.rules {
		if !rule.Applies(e) {
			continue
		}
		en.run(ctx, rule, e)
	}
}

func (en *Engine) run(ctx context.Context, rule Rule, e *audit.Event) {
	var err error
	ctx, endSpan := tracing.StartSpan(ctx, "alert."+rule.Name())
	defer func() { endSpan(err) }()

	logger := en.logger.With(
		slog.String("rule", rule.Name()),
		slog.String("request_id", e.RequestID),
		slog.String("action", e.Action),
	)

	a, err := fire(ctx, rule, e)
	if err != nil {
		en.metrics.incFailure(rule.Name())
		logger.WarnContext(ctx, "alert rule failed", slog.Any("error", err))
		return
	}
	if a == nil {
		logger.DebugContext(ctx, "alert rule suppressed")
		return
	}

	if err = en.notifier.Notify(ctx, *a); err != nil {
		en.metrics.incFailure(rule.Name())
		logger.WarnContext(ctx, "alert delivery failed", slog.Any("error", err))
		return
	}
	en.metrics.incFired(rule.Name())
	tracing.AddEvent(ctx, "alert_sent", attribute.String("severity", string(a.Severity)))
	logger.InfoContext(ctx, "alert sent",
		slog.String("severity", string(a.Severity)),
		slog.String("subject", a.Subject))
}

// fire calls rule.Fire, converting a panic into an error.
func fire(ctx context.Context, rule Rule, e *audit.Event) (a *Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panic: %v", r)
		}
	}()
	return rule.Fire(ctx, e)
}
