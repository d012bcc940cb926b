package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scribeq/internal/backend"
	"scribeq/internal/store"

	"github.com/google/uuid"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*store.Job
	updates []store.JobUpdate
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*store.Job)}
}

func (f *fakeJobStore) updateHistory() []store.JobUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.JobUpdate(nil), f.updates...)
}

func (f *fakeJobStore) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = store.JobStatusPending
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobStore) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) ListJobs(ctx context.Context, filter store.JobFilter, page store.Page) ([]store.Job, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Job
	for _, j := range f.jobs {
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		out = append(out, *j)
	}
	return out, len(out), nil
}

func (f *fakeJobStore) UpdateJob(ctx context.Context, tx store.DBTransaction, id uuid.UUID, update store.JobUpdate) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if update.Empty() {
		return nil, store.ErrInvalidUpdate
	}
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	f.updates = append(f.updates, update)
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.ResultText != nil {
		job.ResultText = *update.ResultText
	}
	if update.ArtifactPath != nil {
		job.ArtifactPath = *update.ArtifactPath
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	job.UpdatedAt = time.Now()
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) DeleteJob(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return false, nil
	}
	delete(f.jobs, id)
	return true, nil
}

type fakeQueueEntry struct {
	jobID        uuid.UUID
	payload      json.RawMessage
	priority     int
	attempt      int
	claimed      bool
	visibleAfter time.Time
}

type fakeQueue struct {
	mu         sync.Mutex
	nextID     int64
	entries    map[uuid.UUID]*fakeQueueEntry
	extensions int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[uuid.UUID]*fakeQueueEntry)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, payload json.RawMessage, priority int, visibleAfter time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.entries[jobID] = &fakeQueueEntry{
		jobID:        jobID,
		payload:      payload,
		priority:     priority,
		visibleAfter: visibleAfter,
	}
	return q.nextID, nil
}

func (q *fakeQueue) DequeueBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var items []store.QueueItem
	for _, e := range q.entries {
		if len(items) >= limit {
			break
		}
		if e.visibleAfter.After(now) {
			continue
		}
		e.attempt++
		e.claimed = true
		e.visibleAfter = now.Add(15 * time.Minute)
		items = append(items, store.QueueItem{
			JobID:   e.jobID,
			Payload: e.payload,
			Attempt: e.attempt,
		})
	}
	return items, nil
}

func (q *fakeQueue) Complete(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, jobID)
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, visibleAfter time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[jobID]; ok {
		e.claimed = false
		e.visibleAfter = visibleAfter
	}
	return nil
}

func (q *fakeQueue) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, visibleAfter time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[jobID]; ok && e.claimed {
		e.visibleAfter = visibleAfter
		q.extensions++
	}
	return nil
}

func (q *fakeQueue) extensionCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.extensions
}

func (q *fakeQueue) Remove(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, jobID)
	return nil
}

func (q *fakeQueue) Counts(ctx context.Context) (store.QueueCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return store.QueueCounts{Waiting: int64(len(q.entries))}, nil
}

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// scriptedGateway returns the scripted errors in order, then succeeds.
type scriptedGateway struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	result backend.Result
}

func (g *scriptedGateway) invoke() (*backend.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= len(g.errs) {
		return nil, g.errs[g.calls-1]
	}
	r := g.result
	return &r, nil
}

func (g *scriptedGateway) invocations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingObserver collects attempts and signals terminal outcomes.
type recordingObserver struct {
	mu       sync.Mutex
	attempts []Attempt
	terminal chan Attempt
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{terminal: make(chan Attempt, 8)}
}

func (o *recordingObserver) JobAttempt(a Attempt) {
	o.mu.Lock()
	o.attempts = append(o.attempts, a)
	o.mu.Unlock()
	if a.Outcome != OutcomeRetried {
		o.terminal <- a
	}
}

func (o *recordingObserver) all() []Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Attempt(nil), o.attempts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Concurrency:    2,
		PollInterval:   5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		DrainTimeout:   time.Second,
	}
}

type schedulerHarness struct {
	jobs     *fakeJobStore
	queue    *fakeQueue
	gateway  *scriptedGateway
	observer *recordingObserver
	cancel   context.CancelFunc
	sched    *Scheduler
}

func startScheduler(t *testing.T, gw *scriptedGateway) *schedulerHarness {
	t.Helper()
	return startSchedulerWithConfig(t, gw, testConfig())
}

func startSchedulerWithConfig(t *testing.T, gw *scriptedGateway, cfg Config) *schedulerHarness {
	t.Helper()
	h := &schedulerHarness{
		jobs:     newFakeJobStore(),
		queue:    newFakeQueue(),
		gateway:  gw,
		observer: newRecordingObserver(),
	}

	h.sched = New(h.jobs, h.queue, gatewayFunc(gw.invoke), nil, h.observer, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.sched.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.sched.Done():
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return h
}

// gatewayFunc adapts a plain invoke function to the Gateway interface.
type gatewayFunc func() (*backend.Result, error)

func (f gatewayFunc) Invoke(ctx context.Context, jobID, sourceLocation string, params backend.Params) (*backend.Result, error) {
	return f()
}

func (f gatewayFunc) Healthy(ctx context.Context) bool { return true }

func (h *schedulerHarness) submit(t *testing.T) uuid.UUID {
	t.Helper()
	job := &store.Job{Filename: "a.wav", SourceLocation: "/tmp/a.wav", Model: "base"}
	if err := h.jobs.CreateJob(context.Background(), nil, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	payload, _ := json.Marshal(store.EntryPayload{SourceLocation: job.SourceLocation, Model: job.Model})
	if _, err := h.queue.Enqueue(context.Background(), nil, job.ID, payload, 50, time.Now()); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return job.ID
}

func (h *schedulerHarness) waitTerminal(t *testing.T) Attempt {
	t.Helper()
	select {
	case a := <-h.observer.terminal:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal outcome observed")
		return Attempt{}
	}
}

func TestProcess_Success(t *testing.T) {
	gw := &scriptedGateway{result: backend.Result{Text: "hello", SegmentCount: 1, ModelUsed: "base"}}
	h := startScheduler(t, gw)

	jobID := h.submit(t)
	a := h.waitTerminal(t)

	if a.Outcome != OutcomeCompleted {
		t.Fatalf("got outcome %s, want completed", a.Outcome)
	}
	if a.Attempt != 1 {
		t.Errorf("got attempt %d, want 1", a.Attempt)
	}

	job, err := h.jobs.GetJobByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJobByID failed: %v", err)
	}
	if job.Status != store.JobStatusCompleted {
		t.Errorf("got status %s, want completed", job.Status)
	}
	if job.ResultText != "hello" {
		t.Errorf("got result %q, want hello", job.ResultText)
	}
	if job.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if h.queue.size() != 0 {
		t.Errorf("queue still holds %d entries", h.queue.size())
	}
}

func TestProcess_TransientThenSuccess(t *testing.T) {
	gw := &scriptedGateway{
		errs:   []error{fmt.Errorf("%w: connection refused", backend.ErrBackendUnavailable)},
		result: backend.Result{Text: "recovered"},
	}
	h := startScheduler(t, gw)

	jobID := h.submit(t)
	a := h.waitTerminal(t)

	if a.Outcome != OutcomeCompleted {
		t.Fatalf("got outcome %s, want completed", a.Outcome)
	}
	if got := gw.invocations(); got != 2 {
		t.Errorf("got %d invocations, want 2", got)
	}
	if a.Attempt != 2 {
		t.Errorf("terminal attempt %d, want 2", a.Attempt)
	}

	job, _ := h.jobs.GetJobByID(context.Background(), jobID)
	if job.Status != store.JobStatusCompleted {
		t.Errorf("got status %s, want completed", job.Status)
	}
}

func TestProcess_RetryNeverRevertsToPending(t *testing.T) {
	gw := &scriptedGateway{
		errs:   []error{fmt.Errorf("%w: connection refused", backend.ErrBackendUnavailable)},
		result: backend.Result{Text: "recovered"},
	}
	h := startScheduler(t, gw)

	h.submit(t)
	a := h.waitTerminal(t)
	if a.Outcome != OutcomeCompleted {
		t.Fatalf("got outcome %s, want completed", a.Outcome)
	}

	// Once the record leaves pending it must never return, and the error
	// message is written only with a terminal failed status.
	for i, u := range h.jobs.updateHistory() {
		if u.Status != nil && *u.Status == store.JobStatusPending {
			t.Errorf("update %d moved the record back to pending", i)
		}
		if u.ErrorMessage != nil && *u.ErrorMessage != "" {
			if u.Status == nil || *u.Status != store.JobStatusFailed {
				t.Errorf("update %d wrote an error message without failing the job", i)
			}
		}
	}
}

func TestProcess_HeartbeatExtendsClaim(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	observer := newRecordingObserver()

	gw := gatewayFunc(func() (*backend.Result, error) {
		deadline := time.Now().Add(2 * time.Second)
		for queue.extensionCount() < 2 {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("%w: no heartbeat observed", backend.ErrBackendTimeout)
			}
			time.Sleep(time.Millisecond)
		}
		return &backend.Result{Text: "long one"}, nil
	})

	cfg := testConfig()
	cfg.HeartbeatInterval = 2 * time.Millisecond
	cfg.VisibilityExtension = time.Minute
	sched := New(jobs, queue, gw, nil, observer, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-sched.Done()
	})

	job := &store.Job{Filename: "long.wav", SourceLocation: "/tmp/long.wav", Model: "base"}
	jobs.CreateJob(context.Background(), nil, job)
	payload, _ := json.Marshal(store.EntryPayload{SourceLocation: job.SourceLocation, Model: job.Model})
	queue.Enqueue(context.Background(), nil, job.ID, payload, 50, time.Now())

	var a Attempt
	select {
	case a = <-observer.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal outcome observed")
	}

	if a.Outcome != OutcomeCompleted {
		t.Fatalf("got outcome %s, want completed (heartbeat never fired)", a.Outcome)
	}
	if queue.extensionCount() < 2 {
		t.Errorf("got %d visibility extensions, want at least 2", queue.extensionCount())
	}
}

func TestProcess_RetriesExhausted(t *testing.T) {
	transient := fmt.Errorf("%w: no reply", backend.ErrBackendTimeout)
	gw := &scriptedGateway{errs: []error{transient, transient, transient, transient}}
	h := startScheduler(t, gw)

	jobID := h.submit(t)
	a := h.waitTerminal(t)

	if a.Outcome != OutcomeFailed {
		t.Fatalf("got outcome %s, want failed", a.Outcome)
	}
	if got := gw.invocations(); got != 3 {
		t.Errorf("got %d invocations, want exactly max attempts (3)", got)
	}

	job, _ := h.jobs.GetJobByID(context.Background(), jobID)
	if job.Status != store.JobStatusFailed {
		t.Errorf("got status %s, want failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
	if h.queue.size() != 0 {
		t.Error("queue entry not removed after terminal failure")
	}
}

func TestProcess_TerminalErrorDoesNotRetry(t *testing.T) {
	gw := &scriptedGateway{
		errs:   []error{fmt.Errorf("%w: unsupported codec", backend.ErrBackendRejected)},
		result: backend.Result{Text: "should never be produced"},
	}
	h := startScheduler(t, gw)

	jobID := h.submit(t)
	a := h.waitTerminal(t)

	if a.Outcome != OutcomeFailed {
		t.Fatalf("got outcome %s, want failed", a.Outcome)
	}
	if got := gw.invocations(); got != 1 {
		t.Errorf("got %d invocations, want 1", got)
	}

	job, _ := h.jobs.GetJobByID(context.Background(), jobID)
	if job.Status != store.JobStatusFailed {
		t.Errorf("got status %s, want failed", job.Status)
	}
}

func TestProcess_InputMissingDoesNotRetry(t *testing.T) {
	gw := &scriptedGateway{errs: []error{
		fmt.Errorf("%w: /tmp/gone.wav", backend.ErrInputMissing),
	}}
	h := startScheduler(t, gw)

	h.submit(t)
	a := h.waitTerminal(t)

	if a.Outcome != OutcomeFailed {
		t.Fatalf("got outcome %s, want failed", a.Outcome)
	}
	if got := gw.invocations(); got != 1 {
		t.Errorf("got %d invocations, want 1", got)
	}
}

func TestProcess_InvalidPayloadFailsJob(t *testing.T) {
	gw := &scriptedGateway{}
	h := startScheduler(t, gw)

	job := &store.Job{Filename: "b.wav"}
	h.jobs.CreateJob(context.Background(), nil, job)
	h.queue.Enqueue(context.Background(), nil, job.ID, json.RawMessage(`{broken`), 50, time.Now())

	a := h.waitTerminal(t)
	if a.Outcome != OutcomeFailed {
		t.Fatalf("got outcome %s, want failed", a.Outcome)
	}
	if gw.invocations() != 0 {
		t.Error("backend invoked for unparseable payload")
	}
}

func TestProcess_DeletedJobDropsEntry(t *testing.T) {
	gw := &scriptedGateway{}
	h := startScheduler(t, gw)

	// Enqueue an entry whose job record never existed.
	orphan := uuid.New()
	payload, _ := json.Marshal(store.EntryPayload{SourceLocation: "/tmp/x.wav", Model: "base"})
	h.queue.Enqueue(context.Background(), nil, orphan, payload, 50, time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for h.queue.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("orphan queue entry was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if gw.invocations() != 0 {
		t.Error("backend invoked for orphan entry")
	}
}

func TestRetryDelay(t *testing.T) {
	s := New(newFakeJobStore(), newFakeQueue(), gatewayFunc(func() (*backend.Result, error) { return nil, nil }), nil, nil, Config{
		RetryBaseDelay: 10 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
	}, discardLogger())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{6, 5 * time.Minute},
		{20, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := s.retryDelay(tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRun_DrainWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished bool
	var mu sync.Mutex

	gw := gatewayFunc(func() (*backend.Result, error) {
		close(started)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
		return &backend.Result{Text: "slow"}, nil
	})

	jobs := newFakeJobStore()
	queue := newFakeQueue()
	sched := New(jobs, queue, gw, nil, nil, testConfig(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	job := &store.Job{Filename: "slow.wav"}
	jobs.CreateJob(context.Background(), nil, job)
	payload, _ := json.Marshal(store.EntryPayload{SourceLocation: "/tmp/slow.wav", Model: "base"})
	queue.Enqueue(context.Background(), nil, job.ID, payload, 50, time.Now())

	<-started
	cancel()

	// The scheduler must not report done while the job is in flight.
	select {
	case <-sched.Done():
		t.Fatal("scheduler stopped before in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-sched.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("in-flight job did not finish during drain")
	}
}
