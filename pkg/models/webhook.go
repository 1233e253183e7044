package models

import "time"

// WebhookOutcome is the terminal result of one guarded ingestion attempt.
type WebhookOutcome string

const (
	// OutcomeSuccess means the event was processed.
	OutcomeSuccess WebhookOutcome = "success"

	// OutcomeFailure means processing failed or was rejected.
	OutcomeFailure WebhookOutcome = "failure"
)

// WebhookLogEntry is the append-only record of one ingestion attempt.
// Entries are removed only by retention cleanup.
type WebhookLogEntry struct {
	// ID is the entry identifier.
	ID string `json:"id"`

	// Stage names the processing stage that was attempted.
	Stage string `json:"stage"`

	// Outcome is success or failure.
	Outcome WebhookOutcome `json:"outcome"`

	// Timestamp is when the attempt completed, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is how long the attempt took.
	DurationMs int64 `json:"duration_ms"`

	// ErrorSummary describes the failure, if any.
	ErrorSummary string `json:"error_summary,omitempty"`

	// Metadata carries event identifiers and other attempt context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MetricsSnapshot is a point-in-time view of the rolling ingestion counters.
// Counts are monotonically non-decreasing between explicit resets, and
// TotalRequests always equals SuccessfulRequests + FailedRequests.
type MetricsSnapshot struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`

	// AverageProcessingTimeMs is the running mean attempt duration.
	AverageProcessingTimeMs float64 `json:"average_processing_time_ms"`

	// LastProcessedAt is when the most recent attempt completed.
	LastProcessedAt time.Time `json:"last_processed_at"`
}
