package search

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/facesystem/gateway/internal/audit"
)

// ErrInvalidQuery is returned for queries that fail validation.
var ErrInvalidQuery = errors.New("invalid search query")

// textFields are matched by the free-text term.
var textFields = []string{"actor_email", "actor_agent", "http_path", "request_id"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Query is an audit search request. Empty string fields and nil bounds are
// not applied. Page is 0-based.
type Query struct {
	Text       string        `validate:"max=256"`
	Action     string        `validate:"max=128"`
	TargetType string        `validate:"max=64"`
	Outcome    audit.Outcome `validate:"omitempty,oneof=success failure"`
	From       *time.Time
	To         *time.Time
	Page       int `validate:"min=0"`
	Size       int `validate:"min=1,max=100"`
}

// Validate checks field bounds and that the date range is not inverted.
func (q Query) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return fmt.Errorf("%w: to is before from", ErrInvalidQuery)
	}
	return nil
}

// body builds the Elasticsearch request body: a bool query with the text term
// as must and every other criterion as a filter, newest first.
func (q Query) body() map[string]any {
	var must, filter []any

	if text := strings.TrimSpace(q.Text); text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": textFields,
			},
		})
	}
	for _, term := range []struct{ field, value string }{
		{"action", q.Action},
		{"target_type", q.TargetType},
		{"outcome", string(q.Outcome)},
	} {
		if term.value != "" {
			filter = append(filter, map[string]any{
				"term": map[string]any{term.field: term.value},
			})
		}
	}
	if q.From != nil || q.To != nil {
		bounds := map[string]any{}
		if q.From != nil {
			bounds["gte"] = audit.NewTimestamp(*q.From).String()
		}
		if q.To != nil {
			bounds["lte"] = audit.NewTimestamp(*q.To).String()
		}
		filter = append(filter, map[string]any{
			"range": map[string]any{"timestamp": bounds},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	return map[string]any{
		"query":            map[string]any{"bool": boolQuery},
		"sort":             []any{map[string]any{"timestamp": map[string]any{"order": "desc"}}},
		"from":             q.Page * q.Size,
		"size":             q.Size,
		"track_total_hits": true,
	}
}
