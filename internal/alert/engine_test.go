package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/counter"
	"github.com/facesystem/gateway/internal/mail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, a)
	return nil
}

// downStore fails every call like an unreachable Redis.
type downStore struct{}

func (downStore) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, counter.ErrUnavailable
}
func (downStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, counter.ErrUnavailable
}
func (downStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, counter.ErrUnavailable
}

type panicRule struct{}

func (panicRule) Name() string { return "panics" }
func (panicRule) Applies(*audit.Event) bool { return true }

func (panicRule) Fire(context.Context, *audit.Event) (*Alert, error) {
	panic("boom")
}

func loginEvent(ip string, status int) *audit.Event {
	return &audit.Event{
		RequestID:  "req-login",
		Timestamp:  audit.NewTimestamp(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		ActorIP:    ip,
		Action:     LoginAction,
		HTTPMethod: "POST",
		HTTPPath:   "/api/v1/user/authenticate",
		TargetType: "auth",
		Outcome:    audit.OutcomeFor(status),
		StatusCode: status,
		DurationMs: 30,
	}
}

func newEngine(store counter.Store, cfg Config, n Notifier, m *Metrics) *Engine {
	return NewEngine(DefaultRules(store, cfg), n, m, testLogger())
}

func TestEngine_BruteForceFiresOncePerWindow(t *testing.T) {
	store := counter.NewInMemoryStore()
	notifier := &recordingNotifier{}
	metrics := NewMetrics()
	en := newEngine(store, DefaultConfig(), notifier, metrics)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		en.Evaluate(ctx, loginEvent("1.2.3.4", 401))
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts after 6 failures = %d, want 1", len(notifier.alerts))
	}
	en.Evaluate(ctx, loginEvent("1.2.3.4", 401))
	if len(notifier.alerts) != 1 {
		t.Errorf("alerts after 7th failure = %d, want 1", len(notifier.alerts))
	}

	a := notifier.alerts[0]
	if a.Subject != "[ALERT] Brute-Force Login Attempt from 1.2.3.4" {
		t.Errorf("subject = %q", a.Subject)
	}
	if a.Severity != SeverityWarning {
		t.Errorf("severity = %q, want warning", a.Severity)
	}
	if got := fieldValue(a, "Failed Attempts"); got != "5" {
		t.Errorf("attempts = %q, want 5", got)
	}
	if got := fieldValue(a, "Window"); got != "10 minutes" {
		t.Errorf("window = %q, want 10 minutes", got)
	}
	if got := testutil.ToFloat64(metrics.fired.WithLabelValues(RuleBruteForce)); got != 1 {
		t.Errorf("fired{brute_force} = %v, want 1", got)
	}

	ttl, _ := store.TTL(ctx, bruteForceFiredPrefix+"1.2.3.4")
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Errorf("fired flag TTL = %v, want within the window", ttl)
	}
}

func TestEngine_BruteForceIgnoresOtherEvents(t *testing.T) {
	store := counter.NewInMemoryStore()
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.FailedAuth.Threshold = 1
	en := newEngine(store, cfg, notifier, nil)

	success := loginEvent("1.2.3.4", 200)
	noIP := loginEvent("", 401)
	otherAction := loginEvent("1.2.3.4", 401)
	otherAction.Action = "auth:refresh"

	for _, e := range []*audit.Event{success, noIP, otherAction} {
		en.Evaluate(context.Background(), e)
	}
	if len(notifier.alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(notifier.alerts))
	}
	if ttl, _ := store.TTL(context.Background(), bruteForceCounterPrefix+"1.2.3.4"); ttl >= 0 {
		t.Error("counter created for a non-matching event")
	}
}

func TestEngine_BruteForceCountsPerIP(t *testing.T) {
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.FailedAuth.Threshold = 2
	en := newEngine(counter.NewInMemoryStore(), cfg, notifier, nil)

	en.Evaluate(context.Background(), loginEvent("1.1.1.1", 401))
	en.Evaluate(context.Background(), loginEvent("2.2.2.2", 401))
	if len(notifier.alerts) != 0 {
		t.Fatalf("alerts = %d, want 0", len(notifier.alerts))
	}
	en.Evaluate(context.Background(), loginEvent("2.2.2.2", 401))
	if len(notifier.alerts) != 1 || fieldValue(notifier.alerts[0], "Actor IP") != "2.2.2.2" {
		t.Errorf("alerts = %+v, want one for 2.2.2.2", notifier.alerts)
	}
}

func TestEngine_ServerErrorFiresPerEvent(t *testing.T) {
	notifier := &recordingNotifier{}
	metrics := NewMetrics()
	en := newEngine(counter.NewInMemoryStore(), DefaultConfig(), notifier, metrics)

	e := &audit.Event{
		RequestID:  "req-500",
		Timestamp:  audit.NewTimestamp(time.Date(2024, 3, 1, 12, 0, 0, 42_000_000, time.UTC)),
		Action:     "face:check",
		HTTPMethod: "GET",
		HTTPPath:   "/api/v1/face/is-registered",
		Outcome:    audit.OutcomeFailure,
		StatusCode: 500,
	}
	en.Evaluate(context.Background(), e)

	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(notifier.alerts))
	}
	a := notifier.alerts[0]
	if a.Subject != "[ALERT] Server Error 500 on /api/v1/face/is-registered" {
		t.Errorf("subject = %q", a.Subject)
	}
	if a.Severity != SeverityCritical || a.Timestamp != "2024-03-01T12:00:00.042" {
		t.Errorf("alert = %+v", a)
	}
	if got := fieldValue(a, "Actor IP"); got != "unknown" {
		t.Errorf("actor ip = %q, want unknown", got)
	}

	en.Evaluate(context.Background(), e)
	if len(notifier.alerts) != 2 {
		t.Errorf("alerts after second 5xx = %d, want 2", len(notifier.alerts))
	}
	if got := testutil.ToFloat64(metrics.fired.WithLabelValues(RuleServerError)); got != 2 {
		t.Errorf("fired{server_error} = %v, want 2", got)
	}
}

func TestEngine_ServerErrorDisabled(t *testing.T) {
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.ServerError.Enabled = false
	en := newEngine(counter.NewInMemoryStore(), cfg, notifier, nil)

	e := loginEvent("1.2.3.4", 503)
	en.Evaluate(context.Background(), e)

	if len(notifier.alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(notifier.alerts))
	}
}

func TestEngine_CounterStoreDownIsAbsorbed(t *testing.T) {
	notifier := &recordingNotifier{}
	metrics := NewMetrics()
	en := newEngine(downStore{}, DefaultConfig(), notifier, metrics)

	en.Evaluate(context.Background(), loginEvent("1.2.3.4", 401))

	if len(notifier.alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(notifier.alerts))
	}
	if got := testutil.ToFloat64(metrics.failures.WithLabelValues(RuleBruteForce)); got != 1 {
		t.Errorf("failures{brute_force} = %v, want 1", got)
	}
}

func TestEngine_RulesAreIndependent(t *testing.T) {
	notifier := &recordingNotifier{}
	metrics := NewMetrics()
	rules := []Rule{panicRule{}, NewServerErrorRule(ServerErrorConfig{Enabled: true})}
	en := NewEngine(rules, notifier, metrics, testLogger())

	en.Evaluate(context.Background(), loginEvent("1.2.3.4", 500))

	if len(notifier.alerts) != 1 || notifier.alerts[0].Rule != RuleServerError {
		t.Errorf("alerts = %+v, want one server_error alert", notifier.alerts)
	}
	if got := testutil.ToFloat64(metrics.failures.WithLabelValues("panics")); got != 1 {
		t.Errorf("failures{panics} = %v, want 1", got)
	}
}

func TestEngine_DeliveryFailureIsAbsorbed(t *testing.T) {
	metrics := NewMetrics()
	en := newEngine(counter.NewInMemoryStore(), DefaultConfig(), &recordingNotifier{err: errors.New("smtp down")}, metrics)

	en.Evaluate(context.Background(), loginEvent("1.2.3.4", 502))

	if got := testutil.ToFloat64(metrics.failures.WithLabelValues(RuleServerError)); got != 1 {
		t.Errorf("failures{server_error} = %v, want 1", got)
	}
}

type capturingSender struct {
	msgs []mail.Message
}

func (s *capturingSender) Send(_ context.Context, msg mail.Message) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	sender := &capturingSender{}
	n := NewEmailNotifier(sender, []string{"ops@face-system.local"})

	a, _ := NewServerErrorRule(ServerErrorConfig{Enabled: true}).Fire(context.Background(), loginEvent("10.0.0.1", 500))
	if err := n.Notify(context.Background(), *a); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(sender.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(sender.msgs))
	}
	msg := sender.msgs[0]
	if msg.Subject != a.Subject || msg.To[0] != "ops@face-system.local" {
		t.Errorf("message = %+v", msg)
	}
	for _, want := range []string{
		"HTTP 500 Error Detected",
		"Severity:  critical",
		"Request ID:      req-login",
		"Actor IP:        10.0.0.1",
		"Path:            /api/v1/user/authenticate",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func fieldValue(a Alert, name string) string {
	for _, f := range a.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestLogNotifier(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	en := NewEngine(DefaultRules(counter.NewInMemoryStore(), DefaultConfig()), LogNotifier(logger), nil, testLogger())
	e := loginEvent("198.51.100.4", 500)
	e.Action = "face:recognize"
	en.Evaluate(context.Background(), e)

	out := buf.String()
	if !strings.Contains(out, "alert fired") || !strings.Contains(out, "rule=server_error") {
		t.Errorf("log output = %q, want a server_error alert line", out)
	}
}
