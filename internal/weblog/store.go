// Package weblog records webhook ingestion attempts and maintains rolling
// processing metrics.
//
// Every guarded ingestion attempt produces one append-only WebhookLogEntry.
// The Recorder keeps an O(1) in-memory MetricsSnapshot alongside the durable
// log, and the Janitor removes entries past the retention window on a cron
// schedule.
package weblog

import (
	"context"
	"time"

	"github.com/replypilot/replypilot/pkg/models"
)

// Store persists webhook log entries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append writes one entry. Entries are immutable once written.
	Append(ctx context.Context, entry *models.WebhookLogEntry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]models.WebhookLogEntry, error)

	// DeleteBefore removes entries with a timestamp strictly before cutoff
	// and returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases store resources.
	Close() error
}
