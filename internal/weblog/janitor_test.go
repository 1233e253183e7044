package weblog

import (
	"context"
	"testing"
	"time"

	"github.com/replypilot/replypilot/pkg/models"
)

func TestNewJanitorValidation(t *testing.T) {
	store := NewMemoryStore()

	if _, err := NewJanitor(store, JanitorConfig{}); err == nil {
		t.Error("expected error for zero retention")
	}
	if _, err := NewJanitor(store, JanitorConfig{Retention: time.Hour, Schedule: "not a cron"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := NewJanitor(store, JanitorConfig{Retention: time.Hour}); err != nil {
		t.Errorf("default schedule should parse: %v", err)
	}
}

func TestJanitorRunOnce(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	// Two entries inside the 30-day window, two outside.
	ages := []time.Duration{
		1 * 24 * time.Hour,
		29 * 24 * time.Hour,
		31 * 24 * time.Hour,
		90 * 24 * time.Hour,
	}
	for i, age := range ages {
		_ = store.Append(context.Background(), &models.WebhookLogEntry{
			ID:        string(rune('a' + i)),
			Timestamp: now.Add(-age),
		})
	}

	janitor, err := NewJanitor(store, JanitorConfig{Retention: 30 * 24 * time.Hour},
		WithJanitorNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	removed, err := janitor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if store.Len() != 2 {
		t.Errorf("store has %d entries, want 2", store.Len())
	}

	// A second pass finds nothing new to delete.
	removed, err = janitor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if removed != 0 {
		t.Errorf("second pass removed = %d, want 0", removed)
	}
}

func TestJanitorStartStop(t *testing.T) {
	store := NewMemoryStore()
	janitor, err := NewJanitor(store, JanitorConfig{Retention: time.Hour})
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitor.Start(ctx)
	janitor.Start(ctx) // idempotent while running
	janitor.Stop()
	janitor.Stop() // idempotent when stopped
}
