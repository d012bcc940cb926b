package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// transcribeResponse matches the whisper service's JSON reply.
type transcribeResponse struct {
	Success           bool   `json:"success"`
	Transcription     string `json:"transcription"`
	TranscriptionFile string `json:"transcription_file"`
	Language          string `json:"language"`
	SegmentsCount     int    `json:"segments_count"`
	ModelUsed         string `json:"model_used"`
	Error             string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// RemoteGateway talks to a running transcription service over HTTP.
type RemoteGateway struct {
	baseURL       string
	invokeTimeout time.Duration
	client        *http.Client
}

// NewRemoteGateway creates a gateway for a persistently running backend.
// invokeTimeout bounds each Invoke call; the gateway enforces it itself
// rather than relying on the caller's context.
func NewRemoteGateway(baseURL string, invokeTimeout time.Duration) *RemoteGateway {
	if invokeTimeout <= 0 {
		invokeTimeout = 10 * time.Minute
	}
	return &RemoteGateway{
		baseURL:       baseURL,
		invokeTimeout: invokeTimeout,
		// Per-request deadlines come from the invoke timeout context.
		client: &http.Client{},
	}
}

// Invoke uploads the media file and returns the transcription.
func (g *RemoteGateway) Invoke(ctx context.Context, jobID string, sourceLocation string, params Params) (*Result, error) {
	f, err := os.Open(sourceLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, sourceLocation)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, g.invokeTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("audio", filepath.Base(sourceLocation))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		mw.WriteField("model", params.Model)
		if params.Language != "" {
			mw.WriteField("language", params.Language)
		}
		mw.WriteField("job_id", jobID)
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transcribe", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		var tr transcribeResponse
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if json.Unmarshal(body, &tr) == nil && tr.Error != "" {
			msg = tr.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrBackendRejected, msg)
	}

	var tr transcribeResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: unparseable reply: %v", ErrBackendRejected, err)
	}

	if !tr.Success {
		msg := tr.Error
		if msg == "" {
			msg = "backend reported failure without detail"
		}
		return nil, fmt.Errorf("%w: %s", ErrBackendRejected, msg)
	}

	return &Result{
		Text:         tr.Transcription,
		Language:     tr.Language,
		SegmentCount: tr.SegmentsCount,
		ModelUsed:    tr.ModelUsed,
	}, nil
}

// Healthy probes the backend health endpoint.
func (g *RemoteGateway) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return false
	}
	return hr.Status == "healthy"
}

// classifyTransport maps transport-level failures onto the gateway
// error taxonomy.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
