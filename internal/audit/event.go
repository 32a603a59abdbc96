// Package audit captures one immutable event per handled HTTP request and
// projects it into the relational audit trail.
package audit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEvent is returned when an event is missing a required field.
// Consumers treat it as permanent: redelivery cannot fix it.
var ErrInvalidEvent = errors.New("invalid audit event")

// Outcome classifies the HTTP result of a request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// OutcomeFor returns success iff status < 400.
func OutcomeFor(status int) Outcome {
	if status < 400 {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// Event is the wire record published to the broker for every audited request.
// Actor fields are empty for anonymous requests.
type Event struct {
	RequestID  string    `json:"requestId"`
	Timestamp  Timestamp `json:"timestamp"`
	ActorID    *int64    `json:"actorId,omitempty"`
	ActorEmail string    `json:"actorEmail,omitempty"`
	ActorRole  string    `json:"actorRole,omitempty"`
	ActorIP    string    `json:"actorIp,omitempty"`
	ActorAgent string    `json:"actorAgent,omitempty"`
	Action     string    `json:"action"`
	HTTPMethod string    `json:"httpMethod"`
	HTTPPath   string    `json:"httpPath"`
	TargetType string    `json:"targetType,omitempty"`
	TargetID   string    `json:"targetId,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	StatusCode int       `json:"statusCode"`
	DurationMs int64     `json:"durationMs"`
}

// Validate checks the fields every event must carry.
func (e *Event) Validate() error {
	var missing []string
	if e.RequestID == "" {
		missing = append(missing, "requestId")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if e.Action == "" {
		missing = append(missing, "action")
	}
	if e.HTTPMethod == "" {
		missing = append(missing, "httpMethod")
	}
	if e.HTTPPath == "" {
		missing = append(missing, "httpPath")
	}
	if e.StatusCode <= 0 {
		missing = append(missing, "statusCode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	if e.DurationMs < 0 {
		return fmt.Errorf("%w: negative durationMs", ErrInvalidEvent)
	}
	if e.Outcome != OutcomeFor(e.StatusCode) {
		return fmt.Errorf("%w: outcome %q does not match status %d", ErrInvalidEvent, e.Outcome, e.StatusCode)
	}
	return nil
}
