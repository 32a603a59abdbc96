// Package search projects audit events into Elasticsearch and serves the
// audit search query.
package search

import (
	"net/netip"

	"github.com/facesystem/gateway/internal/audit"
)

// DefaultIndex is the index audit documents are written to.
const DefaultIndex = "audit-logs"

// Document is the search projection of an audit event. Facet fields are
// keywords; timestamp is stored with millisecond precision.
type Document struct {
	RequestID  string          `json:"request_id"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	ActorEmail string          `json:"actor_email,omitempty"`
	ActorIP    string          `json:"actor_ip,omitempty"`
	ActorAgent string          `json:"actor_agent,omitempty"`
	ActorRole  string          `json:"actor_role,omitempty"`
	Action     string          `json:"action"`
	HTTPMethod string          `json:"http_method"`
	HTTPPath   string          `json:"http_path"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Outcome    audit.Outcome   `json:"outcome"`
	StatusCode int             `json:"status_code"`
	DurationMs int64           `json:"duration_ms"`
	Timestamp  audit.Timestamp `json:"timestamp"`
}

// DocumentFromEvent flattens e into its search document. An actor IP that is
// not an IP literal is dropped; the ip mapping would reject the whole document.
func DocumentFromEvent(e *audit.Event) *Document {
	d := &Document{
		RequestID:  e.RequestID,
		ActorID:    e.ActorID,
		ActorEmail: e.ActorEmail,
		ActorIP:    e.ActorIP,
		ActorAgent: e.ActorAgent,
		ActorRole:  e.ActorRole,
		Action:     e.Action,
		HTTPMethod: e.HTTPMethod,
		HTTPPath:   e.HTTPPath,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Outcome:    e.Outcome,
		StatusCode: e.StatusCode,
		DurationMs: e.DurationMs,
		Timestamp:  e.Timestamp,
	}
	if _, err := netip.ParseAddr(d.ActorIP); err != nil {
		d.ActorIP = ""
	}
	return d
}

// Row maps a hit back to the read API row shape. Search documents carry no
// relational id, so ID is zero and CreatedAt is the event timestamp.
func (d *Document) Row() audit.Row {
	return audit.Row{
		RequestID:  d.RequestID,
		UserID:     d.ActorID,
		ActorEmail: optional(d.ActorEmail),
		ActorRole:  optional(d.ActorRole),
		Action:     d.Action,
		TargetType: optional(d.TargetType),
		TargetID:   optional(d.TargetID),
		Outcome:    d.Outcome,
		Method:     d.HTTPMethod,
		Path:       d.HTTPPath,
		StatusCode: d.StatusCode,
		ClientIP:   optional(d.ActorIP),
		UserAgent:  optional(d.ActorAgent),
		DurationMs: d.DurationMs,
		Timestamp:  d.Timestamp.Time,
		CreatedAt:  d.Timestamp.Time,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// indexMapping creates the index with explicit keyword facets so dynamic
// mapping never turns them into analyzed text. Path-derived keywords carry
// ignore_above so an oversized request path is stored but not indexed.
const indexMapping = `{
  "mappings": {
    "properties": {
      "request_id":  {"type": "keyword"},
      "actor_id":    {"type": "long"},
      "actor_email": {"type": "keyword"},
      "actor_ip":    {"type": "ip"},
      "actor_agent": {"type": "text"},
      "actor_role":  {"type": "keyword"},
      "action":      {"type": "keyword", "ignore_above": 1024},
      "http_method": {"type": "keyword"},
      "http_path":   {"type": "keyword", "ignore_above": 1024},
      "target_type": {"type": "keyword"},
      "target_id":   {"type": "keyword", "ignore_above": 1024},
      "outcome":     {"type": "keyword"},
      "status_code": {"type": "integer"},
      "duration_ms": {"type": "long"},
      "timestamp":   {"type": "date", "format": "date_hour_minute_second_millis"}
    }
  }
}`
