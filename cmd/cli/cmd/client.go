package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"scribeq/pkg/api"
)

// Client handles API calls to the scribeq server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, body any, out any, okStatuses ...int) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		var apiErr api.ErrorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// SubmitJob sends POST /jobs to submit a transcription job.
func (c *Client) SubmitJob(req api.SubmitJobRequest) (*api.SubmitJobResponse, error) {
	var result api.SubmitJobResponse
	if err := c.do(http.MethodPost, "/jobs", req, &result, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id} to retrieve a job record.
func (c *Client) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+jobID, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /jobs with optional filters.
func (c *Client) ListJobs(status string, limit, offset int) (*api.ListJobsResponse, error) {
	path := fmt.Sprintf("/jobs?limit=%d&offset=%d", limit, offset)
	if status != "" {
		path += "&status=" + status
	}
	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteJob sends DELETE /jobs/{id}.
func (c *Client) DeleteJob(jobID string) error {
	return c.do(http.MethodDelete, "/jobs/"+jobID, nil, nil, http.StatusNoContent)
}

// QueueStatus sends GET /queue.
func (c *Client) QueueStatus() (*api.QueueStatusResponse, error) {
	var result api.QueueStatusResponse
	if err := c.do(http.MethodGet, "/queue", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// BackendHealth sends GET /backend/health.
func (c *Client) BackendHealth() (*api.HealthResponse, error) {
	var result api.HealthResponse
	if err := c.do(http.MethodGet, "/backend/health", nil, &result, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &result, nil
}
