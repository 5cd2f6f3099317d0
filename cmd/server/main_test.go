package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != "handoff-service" {
		t.Errorf("expected service handoff-service, got %s", response["service"])
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name           string
		ping           error
		expectedStatus int
		expectedBody   string
	}{
		{"store reachable", nil, http.StatusOK, "ready"},
		{"store down", errors.New("connection refused"), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := readyHandler(pingFunc(func(ctx context.Context) error {
				if _, ok := ctx.Deadline(); !ok {
					t.Error("ping must run with a deadline")
				}
				return tt.ping
			}))

			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if body["status"] != tt.expectedBody {
				t.Errorf("expected status %s, got %s", tt.expectedBody, body["status"])
			}
		})
	}
}
