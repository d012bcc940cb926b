package handlers

import (
	"context"
	"time"

	"scribeq/internal/store"
	"scribeq/pkg/api"

	"github.com/google/uuid"
)

// Mock service
type mockService struct {
	submitResp *store.Job
	submitErr  error

	getJobResp *store.Job
	getJobErr  error

	listJobsResp []store.Job
	listTotal    int
	listJobsErr  error

	deleteJobErr error

	queueCounts store.QueueCounts
	queueErr    error

	healthy bool

	// Spies
	capturedSubmit api.SubmitJobRequest
	capturedFilter store.JobFilter
	capturedPage   store.Page
	capturedID     uuid.UUID
}

func (m *mockService) Submit(ctx context.Context, req api.SubmitJobRequest) (*store.Job, error) {
	m.capturedSubmit = req
	return m.submitResp, m.submitErr
}

func (m *mockService) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	m.capturedID = id
	return m.getJobResp, m.getJobErr
}

func (m *mockService) ListJobs(ctx context.Context, filter store.JobFilter, page store.Page) ([]store.Job, int, error) {
	m.capturedFilter = filter
	m.capturedPage = page
	return m.listJobsResp, m.listTotal, m.listJobsErr
}

func (m *mockService) DeleteJob(ctx context.Context, id uuid.UUID) error {
	m.capturedID = id
	return m.deleteJobErr
}

func (m *mockService) QueueStatus(ctx context.Context) (store.QueueCounts, error) {
	return m.queueCounts, m.queueErr
}

func (m *mockService) Healthy(ctx context.Context) bool {
	return m.healthy
}

type mockPinger struct {
	pingErr error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.pingErr
}

func sampleJob() *store.Job {
	now := time.Now().UTC()
	return &store.Job{
		ID:             uuid.New(),
		Filename:       "interview.wav",
		SourceLocation: "/data/uploads/interview.wav",
		Model:          "base",
		Status:         store.JobStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
