package alert

import (
	"context"
	"log/slog"
)

// Severity grades an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Field is one labelled value in an alert body. Order is preserved.
type Field struct {
	Name  string
	Value string
}

// Alert is a rendered rule firing, ready for delivery.
type Alert struct {
	Rule      string
	Severity  Severity
	Subject   string
	Type      string
	Title     string
	Message   string
	Timestamp string
	Fields    []Field
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogNotifier writes alerts to logger instead of delivering them. It stands in
// when no mail server is configured.
func LogNotifier(logger *slog.Logger) Notifier {
	return NotifierFunc(func(ctx context.Context, a Alert) error {
		attrs := []any{
			slog.String("rule", a.Rule),
			slog.String("severity", string(a.Severity)),
			slog.String("subject", a.Subject),
		}
		for _, f := range a.Fields {
			attrs = append(attrs, slog.String(f.Name, f.Value))
		}
		logger.WarnContext(ctx, "alert fired", attrs...)
		return nil
	})
}
