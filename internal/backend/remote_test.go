package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfake audio"), 0o644); err != nil {
		t.Fatalf("failed to write test media: %v", err)
	}
	return path
}

func TestInvoke_Success(t *testing.T) {
	media := writeTestMedia(t)

	var gotModel, gotJobID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotJobID = r.FormValue("job_id")

		file, _, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("missing audio part: %v", err)
		}
		file.Close()

		json.NewEncoder(w).Encode(map[string]any{
			"success":        true,
			"transcription":  "hello world",
			"language":       "en",
			"segments_count": 2,
			"model_used":     "base",
		})
	}))
	defer srv.Close()

	g := NewRemoteGateway(srv.URL, 5*time.Second)

	result, err := g.Invoke(context.Background(), "job-1", media, Params{Model: "base", Language: "en"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if result.Text != "hello world" {
		t.Errorf("got text %q, want %q", result.Text, "hello world")
	}
	if result.SegmentCount != 2 {
		t.Errorf("got segment count %d, want 2", result.SegmentCount)
	}
	if gotModel != "base" {
		t.Errorf("got model %q, want base", gotModel)
	}
	if gotJobID != "job-1" {
		t.Errorf("got job_id %q, want job-1", gotJobID)
	}
}

func TestInvoke_InputMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called when input is missing")
	}))
	defer srv.Close()

	g := NewRemoteGateway(srv.URL, 5*time.Second)

	_, err := g.Invoke(context.Background(), "job-1", "/nonexistent/clip.wav", Params{Model: "base"})
	if !errors.Is(err, ErrInputMissing) {
		t.Errorf("got error %v, want ErrInputMissing", err)
	}
}

func TestInvoke_BackendRejected(t *testing.T) {
	media := writeTestMedia(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "no transcription generated",
		})
	}))
	defer srv.Close()

	g := NewRemoteGateway(srv.URL, 5*time.Second)

	_, err := g.Invoke(context.Background(), "job-1", media, Params{Model: "base"})
	if !errors.Is(err, ErrBackendRejected) {
		t.Fatalf("got error %v, want ErrBackendRejected", err)
	}
	if want := "no transcription generated"; err != nil && !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not carry backend detail %q", err, want)
	}
}

func TestInvoke_BackendRejected_HTTPError(t *testing.T) {
	media := writeTestMedia(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"file too large"}`, http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	g := NewRemoteGateway(srv.URL, 5*time.Second)

	_, err := g.Invoke(context.Background(), "job-1", media, Params{Model: "base"})
	if !errors.Is(err, ErrBackendRejected) {
		t.Errorf("got error %v, want ErrBackendRejected", err)
	}
}

func TestInvoke_BackendUnavailable(t *testing.T) {
	media := writeTestMedia(t)

	// A server that is immediately closed refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := NewRemoteGateway(srv.URL, 5*time.Second)

	_, err := g.Invoke(context.Background(), "job-1", media, Params{Model: "base"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("got error %v, want ErrBackendUnavailable", err)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	media := writeTestMedia(t)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	g := NewRemoteGateway(srv.URL, 50*time.Millisecond)

	_, err := g.Invoke(context.Background(), "job-1", media, Params{Model: "base"})
	if !errors.Is(err, ErrBackendTimeout) {
		t.Errorf("got error %v, want ErrBackendTimeout", err)
	}
}

func TestHealthy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
	}{
		{"healthy", http.StatusOK, `{"status":"healthy"}`, true},
		{"unhealthy status", http.StatusOK, `{"status":"degraded"}`, false},
		{"server error", http.StatusServiceUnavailable, `{"status":"unhealthy"}`, false},
		{"garbage body", http.StatusOK, `not json`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewRemoteGateway(srv.URL, time.Second)
			if got := g.Healthy(context.Background()); got != tt.healthy {
				t.Errorf("got healthy=%v, want %v", got, tt.healthy)
			}
		})
	}
}

func TestHealthy_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := NewRemoteGateway(srv.URL, time.Second)
	if g.Healthy(context.Background()) {
		t.Error("expected unhealthy for unreachable backend")
	}
}
