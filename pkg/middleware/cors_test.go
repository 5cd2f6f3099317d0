package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestCORS(t *testing.T) {
	corsHandler := CORS([]string{"http://localhost:5173", "https://shop.example.com"})(okHandler())

	tests := []struct {
		name            string
		origin          string
		method          string
		requestMethod   string
		expectedOrigin  string
		expectCreds     bool
		expectedMethods string
	}{
		{
			name:           "widget origin",
			origin:         "https://shop.example.com",
			method:         http.MethodPost,
			expectedOrigin: "https://shop.example.com",
			expectCreds:    true,
		},
		{
			name:   "unknown origin",
			origin: "http://evil.com",
			method: http.MethodGet,
		},
		{
			name:            "preflight for session end",
			origin:          "http://localhost:5173",
			method:          http.MethodOptions,
			requestMethod:   http.MethodDelete,
			expectedOrigin:  "http://localhost:5173",
			expectCreds:     true,
			expectedMethods: http.MethodDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/handoff", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.requestMethod != "" {
				req.Header.Set("Access-Control-Request-Method", tt.requestMethod)
			}

			rec := httptest.NewRecorder()
			corsHandler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.expectedOrigin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.expectedOrigin, got)
			}
			creds := rec.Header().Get("Access-Control-Allow-Credentials") == "true"
			if creds != tt.expectCreds {
				t.Errorf("expected credentials %v, got %v", tt.expectCreds, creds)
			}
			if tt.expectedMethods != "" {
				if got := rec.Header().Get("Access-Control-Allow-Methods"); got != tt.expectedMethods {
					t.Errorf("expected allowed methods %q, got %q", tt.expectedMethods, got)
				}
			}
		})
	}
}

func TestCORSWildcard(t *testing.T) {
	handler := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/handoff/status", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("credentials must be off for wildcard origins, got %q", got)
	}
}
