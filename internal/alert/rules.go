package alert

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/counter"
)

// Rule names, used as metric labels.
const (
	RuleServerError = "server_error"
	RuleBruteForce  = "brute_force"
)

// LoginAction is the action token of a login attempt.
const LoginAction = "auth:login"

// Key prefixes of the brute-force rule state in the counter store.
const (
	bruteForceCounterPrefix = "alert:brute-force:counter:"
	bruteForceFiredPrefix   = "alert:brute-force:fired:"
)

// Rule decides whether an event warrants an alert. Fire returns nil when the
// rule applies but is throttled.
type Rule interface {
	Name() string
	Applies(e *audit.Event) bool
	Fire(ctx context.Context, e *audit.Event) (*Alert, error)
}

// eventTime renders the event timestamp, or now when it is missing.
func eventTime(e *audit.Event) string {
	if e.Timestamp.IsZero() {
		return audit.NewTimestamp(time.Now()).String()
	}
	return e.Timestamp.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// ServerErrorRule fires once for every 5xx response.
type ServerErrorRule struct {
	enabled bool
}

// NewServerErrorRule creates the rule. A disabled rule never applies.
func NewServerErrorRule(cfg ServerErrorConfig) *ServerErrorRule {
	return &ServerErrorRule{enabled: cfg.Enabled}
}

func (r *ServerErrorRule) Name() string { return RuleServerError }

func (r *ServerErrorRule) Applies(e *audit.Event) bool {
	return r.enabled && e.StatusCode >= http.StatusInternalServerError
}

func (r *ServerErrorRule) Fire(_ context.Context, e *audit.Event) (*Alert, error) {
	return &Alert{
		Rule:      RuleServerError,
		Severity:  SeverityCritical,
		Subject:   fmt.Sprintf("[ALERT] Server Error %d on %s", e.StatusCode, e.HTTPPath),
		Type:      "Server Error",
		Title:     fmt.Sprintf("HTTP %d Error Detected", e.StatusCode),
		Message:   "A server error occurred during request processing.",
		Timestamp: eventTime(e),
		Fields: []Field{
			{"Method", e.HTTPMethod},
			{"Path", e.HTTPPath},
			{"Status", strconv.Itoa(e.StatusCode)},
			{"Request ID", e.RequestID},
			{"Actor IP", orUnknown(e.ActorIP)},
			{"Action", e.Action},
		},
	}, nil
}

// BruteForceRule fires once per window for an IP whose failed logins reach
// the threshold. The attempt counter and the fired flag share the window TTL.
type BruteForceRule struct {
	store     counter.Store
	threshold int64
	window    time.Duration
}

// NewBruteForceRule creates the rule over store.
func NewBruteForceRule(store counter.Store, cfg FailedAuthConfig) *BruteForceRule {
	return &BruteForceRule{
		store:     store,
		threshold: int64(cfg.Threshold),
		window:    cfg.Window(),
	}
}

func (r *BruteForceRule) Name() string { return RuleBruteForce }

func (r *BruteForceRule) Applies(e *audit.Event) bool {
	return e.Action == LoginAction &&
		e.StatusCode == http.StatusUnauthorized &&
		e.ActorIP != ""
}

func (r *BruteForceRule) Fire(ctx context.Context, e *audit.Event) (*Alert, error) {
	ip := e.ActorIP
	attempts, err := r.store.IncrWithTTL(ctx, bruteForceCounterPrefix+ip, r.window)
	if err != nil {
		return nil, fmt.Errorf("count failed login: %w", err)
	}
	if attempts < r.threshold {
		return nil, nil
	}

	first, err := r.store.SetIfAbsent(ctx, bruteForceFiredPrefix+ip, "1", r.window)
	if err != nil {
		return nil, fmt.Errorf("set fired flag: %w", err)
	}
	if !first {
		return nil, nil
	}

	windowMinutes := int(r.window / time.Minute)
	return &Alert{
		Rule:      RuleBruteForce,
		Severity:  SeverityWarning,
		Subject:   "[ALERT] Brute-Force Login Attempt from " + ip,
		Type:      "Brute-Force Detection",
		Title:     "Excessive Failed Login Attempts",
		Message:   "Multiple failed authentication attempts detected from a single IP address.",
		Timestamp: eventTime(e),
		Fields: []Field{
			{"Actor IP", ip},
			{"Failed Attempts", strconv.FormatInt(attempts, 10)},
			{"Window", strconv.Itoa(windowMinutes) + " minutes"},
			{"Path", e.HTTPPath},
		},
	}, nil
}

// DefaultRules returns the server error and brute-force rules for cfg.
func DefaultRules(store counter.Store, cfg Config) []Rule {
	return []Rule{
		NewServerErrorRule(cfg.ServerError),
		NewBruteForceRule(store, cfg.FailedAuth),
	}
}
