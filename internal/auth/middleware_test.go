package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Options{
		JWTSecret:  testSecret,
		AgentRoles: []string{"agent", "admin"},
		AdminRoles: []string{"admin", "supervisor"},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return a
}

func TestNewAuthenticatorRequiresVerification(t *testing.T) {
	if _, err := NewAuthenticator(Options{}, zerolog.Nop()); err == nil {
		t.Error("expected error without secret or issuer")
	}
	if _, err := NewAuthenticator(Options{SkipAuth: true}, zerolog.Nop()); err != nil {
		t.Errorf("skip auth should not need keys: %v", err)
	}
}

func TestValidateToken(t *testing.T) {
	a := newTestAuth(t)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		token    string
		wantErr  bool
		wantRole string
	}{
		{
			name: "keycloak realm roles",
			token: sign(t, jwt.MapClaims{
				"sub": "alice", "name": "Alice", "exp": exp,
				"realm_access": map[string]interface{}{"roles": []interface{}{"offline_access", "agent"}},
			}),
			wantRole: "agent",
		},
		{
			name:     "cognito groups",
			token:    sign(t, jwt.MapClaims{"sub": "bob", "exp": exp, "cognito:groups": []interface{}{"supervisor"}}),
			wantRole: "supervisor",
		},
		{
			name:    "expired",
			token:   sign(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Minute).Unix()}),
			wantErr: true,
		},
		{
			name:    "missing exp",
			token:   sign(t, jwt.MapClaims{"sub": "alice"}),
			wantErr: true,
		},
		{
			name:    "missing subject",
			token:   sign(t, jwt.MapClaims{"exp": exp}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not-a-token",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := a.ValidateToken(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", claims.Role, tt.wantRole)
			}
		})
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	a := newTestAuth(t)
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other"))

	if _, err := a.ValidateToken(token); err == nil {
		t.Error("expected signature error")
	}
}

func TestIdentity(t *testing.T) {
	a := newTestAuth(t)

	agent := a.Identity(&Claims{Name: "Alice", Picture: "https://x/a.png", Roles: []string{"agent"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}})
	if !agent.Authorized || agent.AgentID != "alice" || agent.AvatarURL != "https://x/a.png" {
		t.Errorf("unexpected identity %+v", agent)
	}

	viewer := a.Identity(&Claims{Email: "v@x", Roles: []string{"viewer"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "v"}})
	if viewer.Authorized {
		t.Error("viewer must not be authorized as agent")
	}
	if viewer.Name != "v@x" {
		t.Errorf("expected email as fallback name, got %q", viewer.Name)
	}

	if a.Identity(nil).Authorized {
		t.Error("nil claims must not be authorized")
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	token := sign(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix(), "roles": []interface{}{"agent"}})

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = a.IdentityFromRequest(r).AgentID
		w.WriteHeader(http.StatusOK)
	})
	handler := a.Middleware(next)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		agent  string
	}{
		{name: "missing token", setup: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "bearer header", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, status: http.StatusOK, agent: "alice"},
		{name: "query token", setup: func(r *http.Request) { r.URL.RawQuery = "token=" + token }, status: http.StatusOK, agent: "alice"},
		{name: "bad token", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/agent/status", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if seen != tt.agent {
				t.Errorf("agent = %q, want %q", seen, tt.agent)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	a := newTestAuth(t)
	handler := a.Middleware(a.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	exp := time.Now().Add(time.Hour).Unix()

	for _, tc := range []struct {
		role   string
		status int
	}{
		{"agent", http.StatusForbidden},
		{"supervisor", http.StatusNoContent},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/queue", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "x", "exp": exp, "role": tc.role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Errorf("role %s: status = %d, want %d", tc.role, rec.Code, tc.status)
		}
	}
}

func TestSkipAuth(t *testing.T) {
	a, _ := NewAuthenticator(Options{SkipAuth: true, AgentRoles: []string{"agent"}}, zerolog.Nop())

	var authorized bool
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorized = a.IdentityFromRequest(r).Authorized
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !authorized {
		t.Error("dev user should be an authorized agent")
	}
}
