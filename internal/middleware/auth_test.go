package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/facesystem/gateway/internal/auth"
)

const testJWTSecret = "middleware-test-secret-0123456789"

func signToken(t *testing.T, secret, typ string, id auth.Identity) string {
	t.Helper()
	now := time.Now()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
		Email:       id.Email,
		Role:        id.Role,
		Permissions: id.Permissions,
		Type:        typ,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"", "", false},
		{"Bearer", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	svc := auth.NewJWTService(testJWTSecret)
	access := signToken(t, testJWTSecret, auth.TokenTypeAccess, auth.Identity{
		UserID:      7,
		Email:       "a@b.c",
		Role:        "ADMIN",
		Permissions: []string{"audit:read_all"},
	})
	refresh := signToken(t, testJWTSecret, auth.TokenTypeRefresh, auth.Identity{UserID: 7})
	foreign := signToken(t, "another-secret", auth.TokenTypeAccess, auth.Identity{UserID: 7})

	tests := []struct {
		name       string
		header     string
		wantUserID int64
	}{
		{"valid access token", "Bearer " + access, 7},
		{"no header", "", 0},
		{"refresh token", "Bearer " + refresh, 0},
		{"wrong secret", "Bearer " + foreign, 0},
		{"garbage", "Bearer not-a-token", 0},
	}

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var principal *Principal
			var called bool
			handler := RequestID(Authenticate(svc, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				principal = GetPrincipal(r.Context())
			})))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Fatal("handler was not called")
			}
			if tt.wantUserID == 0 {
				if principal != nil {
					t.Errorf("principal = %+v, want anonymous", principal)
				}
				return
			}
			if principal == nil || principal.UserID != tt.wantUserID {
				t.Fatalf("principal = %+v, want user %d", principal, tt.wantUserID)
			}
		})
	}
}

func TestAuthenticate_PrincipalFields(t *testing.T) {
	svc := auth.NewJWTService(testJWTSecret)
	token := signToken(t, testJWTSecret, auth.TokenTypeAccess, auth.Identity{
		UserID: 9,
		Email:  "ops@face-system.local",
		Role:   RoleSuperAdmin,
	})

	var principal *Principal
	handler := RequestID(Authenticate(svc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = GetPrincipal(r.Context())
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/all", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if principal == nil {
		t.Fatal("expected principal")
	}
	if principal.Email != "ops@face-system.local" || principal.Role != RoleSuperAdmin {
		t.Errorf("principal = %+v", principal)
	}
	if !principal.HasPermission("audit:read_all") {
		t.Error("SUPERADMIN should hold every permission")
	}
}
