package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"scribeq/internal/store"
	"scribeq/pkg/api"
)

func TestProbes(t *testing.T) {
	tests := []struct {
		name           string
		endpoint       string
		pingErr        error
		expectedStatus int
	}{
		{
			name:           "Healthz Always OK",
			endpoint:       "/healthz",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Readyz Success",
			endpoint:       "/readyz",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Readyz Database Fail",
			endpoint:       "/readyz",
			pingErr:        errors.New("db down"),
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&mockService{}, &mockPinger{pingErr: tt.pingErr}, "")

			req := httptest.NewRequest(http.MethodGet, tt.endpoint, nil)
			rr := httptest.NewRecorder()

			if tt.endpoint == "/healthz" {
				h.Healthz(rr, req)
			} else {
				h.Readyz(rr, req)
			}

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestQueueStatus(t *testing.T) {
	mock := &mockService{
		queueCounts: store.QueueCounts{Waiting: 4, Active: 2, Completed: 7, Failed: 1},
	}
	h := New(mock, &mockPinger{}, "")

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rr := httptest.NewRecorder()

	h.QueueStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rr.Code)
	}

	var resp api.QueueStatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Waiting != 4 || resp.Active != 2 || resp.Completed != 7 || resp.Failed != 1 {
		t.Errorf("unexpected counts: %+v", resp)
	}
}

func TestBackendHealth(t *testing.T) {
	tests := []struct {
		name           string
		healthy        bool
		expectedStatus int
	}{
		{"Healthy", true, http.StatusOK},
		{"Unhealthy", false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&mockService{healthy: tt.healthy}, &mockPinger{}, "http://localhost:8000")

			req := httptest.NewRequest(http.MethodGet, "/backend/health", nil)
			rr := httptest.NewRecorder()

			h.BackendHealth(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}

			var resp api.HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Healthy != tt.healthy {
				t.Errorf("got healthy=%v, want %v", resp.Healthy, tt.healthy)
			}
			if resp.Backend != "http://localhost:8000" {
				t.Errorf("got backend %q, want the configured description", resp.Backend)
			}
		})
	}
}
