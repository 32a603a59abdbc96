package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/facesystem/gateway/internal/auth"
)

// AccessTokenValidator validates bearer access tokens.
type AccessTokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate resolves the bearer token into a Principal and records it in
// the RequestContext. Requests without a valid access token continue
// anonymously; handlers that need a principal reject them.
func Authenticate(validator AccessTokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				level := slog.LevelDebug
				if !errors.Is(err, auth.ErrExpiredToken) {
					level = slog.LevelInfo
				}
				logger.Log(r.Context(), level, "bearer token rejected", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			id, err := claims.Identity()
			if err != nil {
				logger.InfoContext(r.Context(), "bearer token has invalid subject", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			SetPrincipal(r.Context(), &Principal{
				UserID:      id.UserID,
				Email:       id.Email,
				Role:        id.Role,
				Permissions: id.Permissions,
			})
			next.ServeHTTP(w, r)
		})
	}
}
