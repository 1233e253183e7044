package weblog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/replypilot/replypilot/internal/observability"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// JanitorConfig configures retention cleanup.
type JanitorConfig struct {
	// Retention is how long entries are kept. Required.
	Retention time.Duration

	// Schedule is a cron expression for periodic cleanup.
	// Default: "0 3 * * *" (daily at 03:00).
	Schedule string
}

// Janitor deletes webhook log entries older than the retention window.
// Cleanup runs on a cron schedule once started, or on demand via RunOnce.
type Janitor struct {
	store  Store
	config JanitorConfig
	sched  cron.Schedule
	logger *observability.Logger
	now    func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// JanitorOption customizes janitor construction.
type JanitorOption func(*Janitor)

// WithJanitorLogger sets the structured logger.
func WithJanitorLogger(l *observability.Logger) JanitorOption {
	return func(j *Janitor) { j.logger = l }
}

// WithJanitorNow overrides the clock, for tests.
func WithJanitorNow(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor creates a janitor for the given store.
func NewJanitor(store Store, config JanitorConfig, opts ...JanitorOption) (*Janitor, error) {
	if config.Retention <= 0 {
		return nil, fmt.Errorf("weblog: retention must be positive")
	}
	if strings.TrimSpace(config.Schedule) == "" {
		config.Schedule = "0 3 * * *"
	}
	sched, err := cronParser.Parse(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("weblog: invalid cleanup schedule: %w", err)
	}

	j := &Janitor{
		store:  store,
		config: config,
		sched:  sched,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// RunOnce deletes entries past the retention window and returns how many
// were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.config.Retention)
	removed, err := j.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		if j.logger != nil {
			j.logger.Error(ctx, "retention cleanup failed", "error", err)
		}
		return 0, err
	}
	if j.logger != nil && removed > 0 {
		j.logger.Info(ctx, "retention cleanup complete",
			"removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

// Start runs cleanup on the configured schedule until Stop is called or the
// context is canceled. Start is idempotent while running.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return
	}
	j.started = true
	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	stop, done := j.stop, j.done
	j.mu.Unlock()

	go func() {
		defer close(done)
		for {
			next := j.sched.Next(j.now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
				if _, err := j.RunOnce(ctx); err != nil && ctx.Err() != nil {
					return
				}
			}
		}
	}()
}

// Stop halts scheduled cleanup and waits for the loop to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	j.started = false
	stop, done := j.stop, j.done
	j.mu.Unlock()

	close(stop)
	<-done
}
