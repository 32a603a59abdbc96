package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/middleware"
	"github.com/facesystem/gateway/internal/search"
)

// Permissions checked by the audit read endpoints.
const (
	PermAuditReadAll  = "audit:read_all"
	PermAuditReadSelf = "audit:read_self"
)

// Paging defaults for the read endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// RowReader lists relational audit rows.
type RowReader interface {
	FindAll(ctx context.Context, page, size int) (audit.Page[audit.Row], error)
	FindByUser(ctx context.Context, userID int64, page, size int) (audit.Page[audit.Row], error)
}

// Searcher runs audit search queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (audit.Page[audit.Row], error)
}

// AuditHandlers serves the audit read API.
type AuditHandlers struct {
	rows     RowReader
	searcher Searcher
	logger   *slog.Logger
}

// NewAuditHandlers creates the handlers. A nil searcher makes the search
// endpoint answer 503.
func NewAuditHandlers(rows RowReader, searcher Searcher, logger *slog.Logger) *AuditHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandlers{rows: rows, searcher: searcher, logger: logger}
}

// Routes mounts the endpoints on r, relative to /api/v1/audit. searchMW wraps
// only the search endpoint.
func (h *AuditHandlers) Routes(r chi.Router, searchMW ...func(http.Handler) http.Handler) {
	r.Get("/all", h.ListAll)
	r.Get("/user/{userId}", h.ListByUser)
	r.With(searchMW...).Get("/search", h.Search)
}

// ListAll handles GET /api/v1/audit/all.
func (h *AuditHandlers) ListAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, func(p *middleware.Principal) bool {
		return p.HasPermission(PermAuditReadAll)
	}) {
		return
	}

	page, size, ok := h.paging(w, r)
	if !ok {
		return
	}

	result, err := h.rows.FindAll(ctx, page, size)
	if err != nil {
		h.storeError(w, ctx, "list audit logs", err)
		return
	}
	WriteData(w, ctx, http.StatusOK, result)
}

// ListByUser handles GET /api/v1/audit/user/{userId}. Principals with
// audit:read_self may only read their own rows.
func (h *AuditHandlers) ListByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userID <= 0 {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "userId must be a positive integer")
		return
	}

	if !h.authorize(w, r, func(p *middleware.Principal) bool {
		return p.HasPermission(PermAuditReadAll) ||
			(p.HasPermission(PermAuditReadSelf) && p.UserID == userID)
	}) {
		return
	}

	page, size, ok := h.paging(w, r)
	if !ok {
		return
	}

	result, err := h.rows.FindByUser(ctx, userID, page, size)
	if err != nil {
		h.storeError(w, ctx, "list user audit logs", err)
		return
	}
	WriteData(w, ctx, http.StatusOK, result)
}

// Search handles GET /api/v1/audit/search.
func (h *AuditHandlers) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, func(p *middleware.Principal) bool {
		return p.HasPermission(PermAuditReadAll)
	}) {
		return
	}
	if h.searcher == nil {
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUnavailable, "Search is not configured")
		return
	}

	page, size, ok := h.paging(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	q := search.Query{
		Text:       params.Get("q"),
		Action:     params.Get("action"),
		TargetType: params.Get("targetType"),
		Outcome:    audit.Outcome(params.Get("outcome")),
		Page:       page,
		Size:       size,
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &q.From},
		{"to", &q.To},
	} {
		raw := params.Get(bound.name)
		if raw == "" {
			continue
		}
		ts, err := audit.ParseTimestamp(raw)
		if err != nil {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, bound.name+" must be an ISO-8601 date-time")
			return
		}
		*bound.dst = &ts.Time
	}

	result, err := h.searcher.Search(ctx, q)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		h.storeError(w, ctx, "search audit logs", err)
		return
	}
	WriteData(w, ctx, http.StatusOK, result)
}

// authorize writes 401 for anonymous requests and 403 when allowed rejects
// the principal.
func (h *AuditHandlers) authorize(w http.ResponseWriter, r *http.Request, allowed func(*middleware.Principal) bool) bool {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return false
	}
	if !allowed(p) {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Insufficient permissions")
		return false
	}
	return true
}

// paging reads page (default 0) and size (default 20, capped at 100).
func (h *AuditHandlers) paging(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	page, size = 0, DefaultPageSize
	params := r.URL.Query()

	if raw := params.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "page must be a non-negative integer")
			return 0, 0, false
		}
		page = n
	}
	if raw := params.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "size must be a positive integer")
			return 0, 0, false
		}
		size = min(n, MaxPageSize)
	}
	return page, size, true
}

func (h *AuditHandlers) storeError(w http.ResponseWriter, ctx context.Context, op string, err error) {
	if errors.Is(err, search.ErrUnavailable) {
		h.logger.WarnContext(ctx, op+" failed", slog.Any("error", err))
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUnavailable, "Audit store unavailable")
		return
	}
	h.logger.ErrorContext(ctx, op+" failed", slog.Any("error", err))
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}
