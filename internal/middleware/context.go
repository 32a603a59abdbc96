// Package middleware provides HTTP middleware components for the gateway.
package middleware

import (
	"context"
	"slices"
	"sync"
)

// RoleSuperAdmin bypasses every permission check.
const RoleSuperAdmin = "SUPERADMIN"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID      int64
	Email       string
	Role        string
	Permissions []string
}

// HasPermission reports whether the principal holds the given permission.
func (p *Principal) HasPermission(permission string) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleSuperAdmin {
		return true
	}
	return slices.Contains(p.Permissions, permission)
}

// RequestContext carries per-request correlation state.
// It is installed once by RequestID and filled in by inner middleware, which lets
// outer middleware read values such as the principal after the downstream handler returns.
// All methods are safe for concurrent use.
type RequestContext struct {
	mu        sync.RWMutex
	requestID string
	principal *Principal
	operation string
	errorCode string
}

// NewRequestContext creates a RequestContext for the given correlation id.
func NewRequestContext(requestID string) *RequestContext {
	return &RequestContext{requestID: requestID}
}

// RequestID returns the correlation id.
func (rc *RequestContext) RequestID() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.requestID
}

// Principal returns a copy of the authenticated principal, or nil for anonymous requests.
func (rc *RequestContext) Principal() *Principal {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.principal == nil {
		return nil
	}
	p := *rc.principal
	p.Permissions = slices.Clone(rc.principal.Permissions)
	return &p
}

// SetPrincipal records the authenticated principal.
func (rc *RequestContext) SetPrincipal(p *Principal) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.principal = p
}

// Operation returns the semantic operation (action token) of the request, if known.
func (rc *RequestContext) Operation() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.operation
}

// SetOperation records the semantic operation of the request.
func (rc *RequestContext) SetOperation(op string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.operation = op
}

// ErrorCode returns the API error code recorded for the response, if any.
func (rc *RequestContext) ErrorCode() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.errorCode
}

func (rc *RequestContext) setErrorCode(code string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.errorCode = code
}

// requestContextKey is the context key for the RequestContext.
type requestContextKey struct{}

// WithRequestContext returns a copy of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the RequestContext stored in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey{}).(*RequestContext); ok {
		return rc
	}
	return nil
}

// GetRequestID returns the request ID from context. Returns empty string if not present.
func GetRequestID(ctx context.Context) string {
	if rc := RequestContextFrom(ctx); rc != nil {
		return rc.RequestID()
	}
	return ""
}

// SetPrincipal stores the principal in the request context.
// This should be called by authentication middleware after validating the token.
// Returns false when ctx carries no RequestContext.
func SetPrincipal(ctx context.Context, p *Principal) bool {
	rc := RequestContextFrom(ctx)
	if rc == nil {
		return false
	}
	rc.SetPrincipal(p)
	return true
}

// GetPrincipal retrieves the principal from context. Returns nil if not present.
func GetPrincipal(ctx context.Context) *Principal {
	if rc := RequestContextFrom(ctx); rc != nil {
		return rc.Principal()
	}
	return nil
}
