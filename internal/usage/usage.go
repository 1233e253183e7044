// Package usage provides token usage tracking and per-tier cost estimation.
package usage

import (
	"sync"
	"time"

	"github.com/replypilot/replypilot/pkg/models"
)

// Cost represents pricing for a model tier (USD per million tokens).
type Cost struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Estimate calculates the estimated cost for the given usage.
func (c Cost) Estimate(u models.TokenUsage) float64 {
	total := float64(u.InputTokens)*c.Input + float64(u.OutputTokens)*c.Output
	return total / 1_000_000
}

// Pricing maps model tiers to their costs.
type Pricing map[models.ModelTier]Cost

// DefaultPricing returns conservative default per-tier pricing. Deployments
// override these in configuration to match their contracted rates.
func DefaultPricing() Pricing {
	return Pricing{
		models.TierFast:    {Input: 0.25, Output: 1.25},
		models.TierQuality: {Input: 3.00, Output: 15.00},
	}
}

// Estimate calculates the cost of the given usage on a tier. Unknown tiers
// estimate to zero.
func (p Pricing) Estimate(tier models.ModelTier, u models.TokenUsage) float64 {
	cost, ok := p[tier]
	if !ok {
		return 0
	}
	return cost.Estimate(u)
}

// Record represents one request's usage for tracking.
type Record struct {
	ID        string            `json:"id"`
	Tier      models.ModelTier  `json:"tier"`
	Model     string            `json:"model"`
	UserID    string            `json:"user_id,omitempty"`
	Usage     models.TokenUsage `json:"usage"`
	Cost      float64           `json:"cost,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Tracker aggregates usage across requests.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record
	byModel  map[string]*models.TokenUsage
	byUser   map[string]*models.TokenUsage
	maxAge   time.Duration
	maxCount int
}

// TrackerConfig configures the usage tracker.
type TrackerConfig struct {
	MaxAge   time.Duration
	MaxCount int
}

// NewTracker creates a new usage tracker.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxCount <= 0 {
		config.MaxCount = 10000
	}

	return &Tracker{
		records:  make([]Record, 0),
		byModel:  make(map[string]*models.TokenUsage),
		byUser:   make(map[string]*models.TokenUsage),
		maxAge:   config.MaxAge,
		maxCount: config.MaxCount,
	}
}

// Record adds a usage record.
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	t.records = append(t.records, r)

	if t.byModel[r.Model] == nil {
		t.byModel[r.Model] = &models.TokenUsage{}
	}
	add(t.byModel[r.Model], r.Usage)

	if r.UserID != "" {
		if t.byUser[r.UserID] == nil {
			t.byUser[r.UserID] = &models.TokenUsage{}
		}
		add(t.byUser[r.UserID], r.Usage)
	}

	t.pruneOld()
}

func add(dst *models.TokenUsage, u models.TokenUsage) {
	dst.InputTokens += u.InputTokens
	dst.OutputTokens += u.OutputTokens
}

// pruneOld removes records older than maxAge and beyond maxCount.
func (t *Tracker) pruneOld() {
	cutoff := time.Now().Add(-t.maxAge)

	startIdx := 0
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
		startIdx = i + 1
	}

	if startIdx > 0 {
		t.records = t.records[startIdx:]
	}

	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}
}

// ModelTotals returns aggregated usage for a model.
func (t *Tracker) ModelTotals(model string) *models.TokenUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if u := t.byModel[model]; u != nil {
		cp := *u
		return &cp
	}
	return nil
}

// UserTotals returns aggregated usage for a user.
func (t *Tracker) UserTotals(userID string) *models.TokenUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if u := t.byUser[userID]; u != nil {
		cp := *u
		return &cp
	}
	return nil
}

// RecentRecords returns the most recent usage records.
func (t *Tracker) RecentRecords(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}

	start := len(t.records) - limit
	result := make([]Record, limit)
	copy(result, t.records[start:])
	return result
}
