package usage

import (
	"testing"

	"github.com/replypilot/replypilot/pkg/models"
)

func TestCost_Estimate(t *testing.T) {
	c := Cost{Input: 3.0, Output: 15.0}

	got := c.Estimate(models.TokenUsage{InputTokens: 1_000_000, OutputTokens: 200_000})
	want := 3.0 + 3.0
	if got != want {
		t.Errorf("Estimate = %v, want %v", got, want)
	}
}

func TestPricing_Estimate(t *testing.T) {
	p := Pricing{
		models.TierFast: {Input: 0.25, Output: 1.25},
	}

	u := models.TokenUsage{InputTokens: 4_000_000, OutputTokens: 800_000}
	if got := p.Estimate(models.TierFast, u); got != 2.0 {
		t.Errorf("fast tier estimate = %v, want 2.0", got)
	}
	if got := p.Estimate(models.TierQuality, u); got != 0 {
		t.Errorf("unknown tier estimate = %v, want 0", got)
	}
}

func TestDefaultPricing_QualityCostsMore(t *testing.T) {
	p := DefaultPricing()
	u := models.TokenUsage{InputTokens: 1000, OutputTokens: 1000}

	if p.Estimate(models.TierQuality, u) <= p.Estimate(models.TierFast, u) {
		t.Error("quality tier should cost more than fast tier")
	}
}

func TestTracker_Record(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	tr.Record(Record{
		Model:  "claude-sonnet",
		UserID: "user-1",
		Usage:  models.TokenUsage{InputTokens: 100, OutputTokens: 50},
	})
	tr.Record(Record{
		Model:  "claude-sonnet",
		UserID: "user-1",
		Usage:  models.TokenUsage{InputTokens: 200, OutputTokens: 25},
	})

	totals := tr.ModelTotals("claude-sonnet")
	if totals == nil {
		t.Fatal("expected totals")
	}
	if totals.InputTokens != 300 || totals.OutputTokens != 75 {
		t.Errorf("totals = %+v", totals)
	}

	userTotals := tr.UserTotals("user-1")
	if userTotals == nil || userTotals.Total() != 375 {
		t.Errorf("user totals = %+v", userTotals)
	}

	if tr.ModelTotals("unknown") != nil {
		t.Error("expected nil for untracked model")
	}
}

func TestTracker_RecentRecords(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	for i := 0; i < 5; i++ {
		tr.Record(Record{Model: "m", Usage: models.TokenUsage{InputTokens: int64(i)}})
	}

	recent := tr.RecentRecords(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[1].Usage.InputTokens != 4 {
		t.Errorf("expected most recent record last, got %+v", recent[1])
	}
}
