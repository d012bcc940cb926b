// Package scheduler contains the worker pool that pulls transcription
// jobs from the durable queue and drives them through the backend.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scribeq/internal/backend"
	"scribeq/internal/logger"
	"scribeq/internal/store"
	"scribeq/internal/transcripts"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome classifies how a single processing attempt ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
)

// Attempt describes one finished processing attempt.
type Attempt struct {
	JobID   uuid.UUID
	Attempt int
	Outcome Outcome
	Err     error
}

// AttemptObserver receives a synchronous callback after every attempt.
// Implementations must be fast; they run on the worker goroutine.
type AttemptObserver interface {
	JobAttempt(a Attempt)
}

// Config holds scheduler tuning knobs.
type Config struct {
	Concurrency    int
	PollInterval   time.Duration
	MaxBackoff     time.Duration // cap for empty-queue poll backoff
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	DrainTimeout   time.Duration

	// HeartbeatInterval is how often an in-flight attempt refreshes its
	// queue entry's visibility. Each beat pushes visible_after out by
	// VisibilityExtension, so attempts longer than the claim's initial
	// visibility timeout are not redelivered to a second worker.
	HeartbeatInterval   time.Duration
	VisibilityExtension time.Duration
}

// Scheduler runs the pull-loop: dequeue, invoke, record outcome.
type Scheduler struct {
	jobs      store.JobStore
	queue     store.Queue
	gateway   backend.Gateway
	artifacts *transcripts.Store
	observer  AttemptObserver
	logger    *slog.Logger
	config    Config
	done      chan struct{}
}

// New creates a scheduler. artifacts and observer may be nil.
func New(jobs store.JobStore, queue store.Queue, gateway backend.Gateway, artifacts *transcripts.Store, observer AttemptObserver, config Config, logger *slog.Logger) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 10 * time.Second
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 5 * time.Minute
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 5 * time.Minute
	}
	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 3 * config.HeartbeatInterval
	}

	return &Scheduler{
		jobs:      jobs,
		queue:     queue,
		gateway:   gateway,
		artifacts: artifacts,
		observer:  observer,
		logger:    logger,
		config:    config,
		done:      make(chan struct{}),
	}
}

// Run starts the pull-loop. It blocks until the context is cancelled,
// then drains in-flight jobs before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		"concurrency", s.config.Concurrency,
		"max_attempts", s.config.MaxAttempts)

	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup

	// Adaptive polling: a freed slot triggers an immediate re-poll,
	// and an empty queue doubles the wait up to MaxBackoff.
	pollNow := make(chan struct{}, 1)
	currentBackoff := s.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			s.drain(&wg)
			close(s.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := s.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			items, err := s.queue.DequeueBatch(ctx, availableSlots)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.Error("dequeue failed", "error", err)
				continue
			}

			if len(items) == 0 {
				currentBackoff = currentBackoff * 2
				if currentBackoff > s.config.MaxBackoff {
					currentBackoff = s.config.MaxBackoff
				}
				continue
			}

			currentBackoff = s.config.PollInterval

			for _, item := range items {
				sem <- struct{}{}
				wg.Add(1)
				go func(item store.QueueItem) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					s.processItem(ctx, item)
				}(item)
			}

			if len(items) == availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel closed once Run has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) drain(wg *sync.WaitGroup) {
	s.logger.Info("scheduler stopping, draining in-flight jobs")
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("drain complete")
	case <-time.After(s.config.DrainTimeout):
		s.logger.Warn("drain timeout elapsed with jobs still in flight",
			"timeout", s.config.DrainTimeout)
	}
}

// processItem runs one attempt for a claimed queue entry. Outcome
// writes use a background context so a shutdown mid-attempt does not
// lose the result.
func (s *Scheduler) processItem(ctx context.Context, item store.QueueItem) {
	ctx = logger.WithJobID(ctx, item.JobID.String())
	l := logger.FromContext(ctx, s.logger).With("attempt", item.Attempt)

	var payload store.EntryPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		l.Error("invalid queue payload", "error", err)
		s.finishFailed(item, fmt.Errorf("invalid queue payload: %w", err))
		return
	}

	tracer := otel.Tracer("scheduler")
	spanCtx, span := tracer.Start(ctx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", item.JobID.String()),
			attribute.Int("job.attempt", item.Attempt),
			attribute.String("job.model", payload.Model),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	processing := store.JobStatusProcessing
	if _, err := s.jobs.UpdateJob(spanCtx, nil, item.JobID, store.JobUpdate{Status: &processing}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Job record was deleted while the entry sat in the queue.
			l.Warn("job record gone, dropping queue entry")
			s.queue.Remove(context.Background(), nil, item.JobID)
			return
		}
		l.Error("failed to mark job processing", "error", err)
		// Leave the entry for redelivery after the visibility timeout.
		return
	}

	l.Info("processing job", "model", payload.Model)

	heartbeatCtx, stopHeartbeat := context.WithCancel(spanCtx)
	defer stopHeartbeat()
	go s.runHeartbeat(heartbeatCtx, item.JobID, l)

	result, err := s.gateway.Invoke(spanCtx, item.JobID.String(), payload.SourceLocation, backend.Params{
		Model:    payload.Model,
		Language: payload.Language,
	})
	stopHeartbeat()
	if err != nil {
		span.RecordError(err)
		s.handleFailure(item, err, l)
		return
	}

	artifactPath := ""
	if s.artifacts != nil {
		artifactPath, err = s.artifacts.Save(result.Text, transcripts.Metadata{
			JobID:        item.JobID.String(),
			Language:     result.Language,
			ModelUsed:    result.ModelUsed,
			SegmentCount: result.SegmentCount,
		})
		if err != nil {
			// The transcription itself succeeded; keep the text in the
			// record and log the artifact miss.
			l.Error("failed to persist transcript artifact", "error", err)
			artifactPath = ""
		}
	}

	s.finishCompleted(item, result.Text, artifactPath)
	l.Info("job completed", "segments", result.SegmentCount)
}

// runHeartbeat refreshes the queue entry's visibility while an attempt
// is in flight, so invocations longer than the claim's visibility
// timeout are not redelivered to another worker.
func (s *Scheduler) runHeartbeat(ctx context.Context, jobID uuid.UUID, l *slog.Logger) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(s.config.VisibilityExtension)
			if err := s.queue.SetVisibleAfter(context.Background(), nil, jobID, visibleAfter); err != nil {
				l.Warn("visibility heartbeat failed", "error", err)
			}
		}
	}
}

// handleFailure decides between retry with backoff and terminal failure.
func (s *Scheduler) handleFailure(item store.QueueItem, invokeErr error, l *slog.Logger) {
	if backend.Transient(invokeErr) && item.Attempt < s.config.MaxAttempts {
		delay := s.retryDelay(item.Attempt)
		l.Warn("attempt failed, retrying", "error", invokeErr, "retry_in", delay)

		// The record stays in processing through the backoff window;
		// status never moves back to pending, and the error message is
		// written only on terminal failure.
		if err := s.queue.Release(context.Background(), nil, item.JobID, time.Now().Add(delay)); err != nil {
			l.Error("failed to release queue entry", "error", err)
		}
		s.observe(Attempt{JobID: item.JobID, Attempt: item.Attempt, Outcome: OutcomeRetried, Err: invokeErr})
		return
	}

	if backend.Transient(invokeErr) {
		l.Error("attempts exhausted, failing job", "error", invokeErr)
	} else {
		l.Error("terminal backend failure", "error", invokeErr)
	}
	s.finishFailed(item, invokeErr)
}

func (s *Scheduler) finishCompleted(item store.QueueItem, text, artifactPath string) {
	ctx := context.Background()

	completed := store.JobStatusCompleted
	now := time.Now()
	empty := ""
	if _, err := s.jobs.UpdateJob(ctx, nil, item.JobID, store.JobUpdate{
		Status:       &completed,
		ResultText:   &text,
		ArtifactPath: &artifactPath,
		ErrorMessage: &empty,
		CompletedAt:  &now,
	}); err != nil {
		s.logger.Error("failed to record completion", "job_id", item.JobID, "error", err)
	}
	if err := s.queue.Complete(ctx, nil, item.JobID); err != nil {
		s.logger.Error("failed to complete queue entry", "job_id", item.JobID, "error", err)
	}
	s.observe(Attempt{JobID: item.JobID, Attempt: item.Attempt, Outcome: OutcomeCompleted})
}

func (s *Scheduler) finishFailed(item store.QueueItem, cause error) {
	ctx := context.Background()

	failed := store.JobStatusFailed
	now := time.Now()
	msg := cause.Error()
	if _, err := s.jobs.UpdateJob(ctx, nil, item.JobID, store.JobUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
		CompletedAt:  &now,
	}); err != nil {
		s.logger.Error("failed to record failure", "job_id", item.JobID, "error", err)
	}
	if err := s.queue.Remove(ctx, nil, item.JobID); err != nil {
		s.logger.Error("failed to remove queue entry", "job_id", item.JobID, "error", err)
	}
	s.observe(Attempt{JobID: item.JobID, Attempt: item.Attempt, Outcome: OutcomeFailed, Err: cause})
}

// retryDelay computes the delay before re-delivery after the given
// attempt number: base doubled per attempt, capped at RetryMaxDelay.
func (s *Scheduler) retryDelay(attempt int) time.Duration {
	delay := s.config.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.RetryMaxDelay {
			return s.config.RetryMaxDelay
		}
	}
	if delay > s.config.RetryMaxDelay {
		delay = s.config.RetryMaxDelay
	}
	return delay
}

func (s *Scheduler) observe(a Attempt) {
	if s.observer != nil {
		s.observer.JobAttempt(a)
	}
}
