package audit

import "net/http"

// Action vocabulary. Tokens are stable and used as keyword facets downstream.
const (
	ActionAuthLogin          = "auth:login"
	ActionAuthRegister       = "auth:register"
	ActionAuthLogout         = "auth:logout"
	ActionAuthRefresh        = "auth:refresh"
	ActionAuthForgotPassword = "auth:forgot_password"
	ActionAuthResetPassword  = "auth:reset_password"
	ActionAuthAcceptInvite   = "auth:accept_invitation"

	ActionProfileRead   = "profile:read"
	ActionProfileUpdate = "profile:update"

	ActionFaceRegister  = "face:register"
	ActionFaceRecognize = "face:recognize"
	ActionFaceDelete    = "face:delete"
	ActionFaceCheck     = "face:check"

	ActionAuditList = "audit:list"
	ActionAuditRead = "audit:read"

	ActionUserList         = "user:list"
	ActionUserRead         = "user:read"
	ActionUserUpdate       = "user:update"
	ActionUserUpdateStatus = "user:update_status"
	ActionUserInvite       = "user:invite"

	ActionRBACManage = "rbac:manage"
)

func literal(method, path, action, targetType string) RuleSpec {
	return RuleSpec{Method: Method(method), Path: path, Literal: true, Action: action, TargetType: targetType}
}

func pattern(m MethodMatcher, path, action, targetType string, group int) RuleSpec {
	return RuleSpec{Method: m, Path: path, Action: action, TargetType: targetType, TargetIDGroup: group}
}

// DefaultRules is the gateway's rule table. Order matters: specific routes
// precede the ones they would otherwise be shadowed by.
var DefaultRules = []RuleSpec{
	literal(http.MethodPost, "/api/v1/user/authenticate", ActionAuthLogin, "auth"),
	literal(http.MethodPost, "/api/v1/user/register", ActionAuthRegister, "auth"),
	literal(http.MethodPost, "/api/v1/user/logout", ActionAuthLogout, "auth"),
	literal(http.MethodPost, "/api/v1/user/refresh", ActionAuthRefresh, "auth"),
	literal(http.MethodPost, "/api/v1/user/forgot-password", ActionAuthForgotPassword, "auth"),
	literal(http.MethodPost, "/api/v1/user/reset-password", ActionAuthResetPassword, "auth"),
	literal(http.MethodPost, "/api/v1/user/accept-invitation", ActionAuthAcceptInvite, "auth"),

	literal(http.MethodPost, "/profile", ActionProfileRead, "profile"),
	literal(http.MethodPut, "/profile", ActionProfileUpdate, "profile"),

	literal(http.MethodPost, "/api/v1/face/register-identity", ActionFaceRegister, "face"),
	literal(http.MethodPost, "/api/v1/face/recognize-identity", ActionFaceRecognize, "face"),
	literal(http.MethodPost, "/api/v1/face/delete-identity", ActionFaceDelete, "face"),
	literal(http.MethodGet, "/api/v1/face/is-registered", ActionFaceCheck, "face"),

	literal(http.MethodGet, "/api/v1/audit/all", ActionAuditList, "audit"),
	pattern(Method(http.MethodGet), `/api/v1/audit/user/(\d+)`, ActionAuditRead, "audit", 1),

	literal(http.MethodGet, "/api/v1/admin/users", ActionUserList, "user"),
	pattern(Method(http.MethodGet), `/api/v1/admin/users/(\d+)`, ActionUserRead, "user", 1),
	pattern(Method(http.MethodPut), `/api/v1/admin/users/(\d+)/status`, ActionUserUpdateStatus, "user", 1),
	pattern(Method(http.MethodPut), `/api/v1/admin/users/(\d+)`, ActionUserUpdate, "user", 1),
	literal(http.MethodPost, "/api/v1/admin/users/invite", ActionUserInvite, "user"),

	pattern(AnyMethod, `/api/v1/admin/rbac/.*`, ActionRBACManage, "rbac", 0),
}

// NewDefaultResolver compiles DefaultRules.
func NewDefaultResolver() *Resolver {
	return MustNewResolver(DefaultRules)
}
