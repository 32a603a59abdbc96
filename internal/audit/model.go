package audit

import (
	"time"
)

// Row is the relational projection of an Event, as stored in audit_logs and
// returned by the read API.
type Row struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	UserID     *int64    `json:"user_id"`
	ActorEmail *string   `json:"actor_email"`
	ActorRole  *string   `json:"actor_role"`
	Action     string    `json:"action"`
	TargetType *string   `json:"target_type"`
	TargetID   *string   `json:"target_id"`
	Outcome    Outcome   `json:"outcome"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	ClientIP   *string   `json:"client_ip"`
	UserAgent  *string   `json:"user_agent"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

// RowFromEvent builds the row for e. ID and CreatedAt are assigned by the store.
func RowFromEvent(e *Event) *Row {
	row := &Row{
		RequestID:  e.RequestID,
		Action:     e.Action,
		TargetType: nullable(e.TargetType),
		TargetID:   nullable(e.TargetID),
		Outcome:    e.Outcome,
		Method:     e.HTTPMethod,
		Path:       e.HTTPPath,
		StatusCode: e.StatusCode,
		ClientIP:   nullable(e.ActorIP),
		UserAgent:  nullable(e.ActorAgent),
		DurationMs: e.DurationMs,
		Timestamp:  e.Timestamp.Time,
	}
	if e.ActorID != nil {
		id := *e.ActorID
		row.UserID = &id
		row.ActorEmail = nullable(e.ActorEmail)
		row.ActorRole = nullable(e.ActorRole)
	}
	return row
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Page is one slice of a newest-first listing. Page indices are 0-based.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int   `json:"total_pages"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
}

// NewPage assembles a page, computing the page count from total and size.
func NewPage[T any](content []T, total int64, page, size int) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if size > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return Page[T]{
		Content:       content,
		TotalElements: total,
		TotalPages:    pages,
		Page:          page,
		Size:          size,
	}
}
