package weblog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/replypilot/replypilot/internal/observability"
	"github.com/replypilot/replypilot/pkg/models"
)

// Attempt describes one completed ingestion attempt for recording.
type Attempt struct {
	// Stage names the processing stage.
	Stage string

	// Outcome is success or failure.
	Outcome models.WebhookOutcome

	// Duration is how long the attempt took.
	Duration time.Duration

	// ErrorSummary describes the failure, if any.
	ErrorSummary string

	// Metadata carries event identifiers and other attempt context.
	Metadata map[string]string
}

// Recorder appends attempts to a Store and maintains a constant-size rolling
// metrics view. The snapshot invariant TotalRequests ==
// SuccessfulRequests + FailedRequests holds at every point; the average is a
// running mean updated in O(1) per attempt.
//
// Safe for concurrent use.
type Recorder struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu       sync.Mutex
	snapshot models.MetricsSnapshot
}

// RecorderOption customizes recorder construction.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the structured logger.
func WithRecorderLogger(l *observability.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithRecorderMetrics mirrors attempts into Prometheus metrics.
func WithRecorderMetrics(m *observability.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithRecorderNow overrides the clock, for tests.
func WithRecorderNow(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record logs one attempt and updates the rolling metrics. The metrics
// update happens even when the store append fails, so the snapshot reflects
// every attempt the process saw.
func (r *Recorder) Record(ctx context.Context, attempt Attempt) (*models.WebhookLogEntry, error) {
	completedAt := r.now().UTC()

	entry := &models.WebhookLogEntry{
		ID:           uuid.NewString(),
		Stage:        attempt.Stage,
		Outcome:      attempt.Outcome,
		Timestamp:    completedAt,
		DurationMs:   attempt.Duration.Milliseconds(),
		ErrorSummary: attempt.ErrorSummary,
		Metadata:     attempt.Metadata,
	}

	r.mu.Lock()
	r.snapshot.TotalRequests++
	if attempt.Outcome == models.OutcomeSuccess {
		r.snapshot.SuccessfulRequests++
	} else {
		r.snapshot.FailedRequests++
	}
	// Running mean: avg += (x - avg) / n
	n := float64(r.snapshot.TotalRequests)
	r.snapshot.AverageProcessingTimeMs += (float64(entry.DurationMs) - r.snapshot.AverageProcessingTimeMs) / n
	r.snapshot.LastProcessedAt = completedAt
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordWebhook(attempt.Stage, string(attempt.Outcome), attempt.Duration.Seconds())
	}

	if err := r.store.Append(ctx, entry); err != nil {
		if r.logger != nil {
			r.logger.Error(ctx, "failed to persist webhook log entry",
				"stage", attempt.Stage, "error", err)
		}
		return entry, err
	}
	return entry, nil
}

// GetMetrics returns a copy of the current snapshot. Calling it repeatedly
// without intervening attempts returns identical values.
func (r *Recorder) GetMetrics() models.MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// ResetMetrics zeroes the rolling counters. The persisted log is untouched;
// only retention cleanup removes entries.
func (r *Recorder) ResetMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot = models.MetricsSnapshot{}
}

// Recent returns up to limit log entries, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.WebhookLogEntry, error) {
	return r.store.Recent(ctx, limit)
}
