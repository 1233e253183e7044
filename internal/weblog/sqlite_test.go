package weblog

import (
	"context"
	"testing"
	"time"

	"github.com/replypilot/replypilot/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	entries := []models.WebhookLogEntry{
		{ID: "id-1", Stage: "inbound_email", Outcome: models.OutcomeSuccess, Timestamp: base, DurationMs: 120,
			Metadata: map[string]string{"email_id": "email-1"}},
		{ID: "id-2", Stage: "reply_drafted", Outcome: models.OutcomeFailure, Timestamp: base.Add(time.Minute),
			DurationMs: 40, ErrorSummary: "provider timeout"},
	}
	for i := range entries {
		if err := store.Append(ctx, &entries[i]); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d entries, want 2", len(recent))
	}
	// Newest first.
	if recent[0].ID != "id-2" || recent[0].ErrorSummary != "provider timeout" {
		t.Errorf("recent[0] = %+v", recent[0])
	}
	if recent[1].Metadata["email_id"] != "email-1" {
		t.Errorf("recent[1].Metadata = %+v", recent[1].Metadata)
	}
	if !recent[1].Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", recent[1].Timestamp, base)
	}
}

func TestSQLiteStoreDeleteBefore(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		err := store.Append(ctx, &models.WebhookLogEntry{
			ID:        string(rune('a' + i)),
			Stage:     "inbound_email",
			Outcome:   models.OutcomeSuccess,
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	removed, err := store.DeleteBefore(ctx, base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	remaining, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("got %d remaining entries, want 2", len(remaining))
	}
}
