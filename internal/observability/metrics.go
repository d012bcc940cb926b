// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"scribeq/internal/scheduler"
	"scribeq/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// JobMetrics holds the transcription pipeline instruments. It also
// implements scheduler.AttemptObserver so attempt outcomes land in the
// same meter.
type JobMetrics struct {
	submitted metric.Int64Counter
	attempts  metric.Int64Counter
}

// NewJobMetrics creates the pipeline instruments on the global meter.
func NewJobMetrics() (*JobMetrics, error) {
	meter := otel.Meter("scribeq")

	submitted, err := meter.Int64Counter("scribeq.jobs.submitted",
		metric.WithDescription("Jobs accepted for transcription"))
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter("scribeq.jobs.attempts",
		metric.WithDescription("Processing attempts by outcome"))
	if err != nil {
		return nil, err
	}

	return &JobMetrics{submitted: submitted, attempts: attempts}, nil
}

// RecordSubmission counts an accepted job.
func (m *JobMetrics) RecordSubmission(ctx context.Context) {
	m.submitted.Add(ctx, 1)
}

// JobAttempt implements scheduler.AttemptObserver.
func (m *JobMetrics) JobAttempt(a scheduler.Attempt) {
	m.attempts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", string(a.Outcome))))
}

// RegisterQueueDepthGauge exports the waiting/active queue counts as
// observable gauges, polled by the Prometheus scrape.
func RegisterQueueDepthGauge(countsFn func(context.Context) (store.QueueCounts, error)) error {
	meter := otel.Meter("scribeq")

	waiting, err := meter.Int64ObservableGauge("scribeq.queue.waiting",
		metric.WithDescription("Queue entries waiting for a worker"))
	if err != nil {
		return err
	}
	active, err := meter.Int64ObservableGauge("scribeq.queue.active",
		metric.WithDescription("Queue entries claimed by a worker"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		counts, err := countsFn(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(waiting, counts.Waiting)
		o.ObserveInt64(active, counts.Active)
		return nil
	}, waiting, active)
	return err
}
