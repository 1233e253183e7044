package agent

import (
	"github.com/replypilot/replypilot/pkg/models"
)

// TierBackend binds a model tier to a concrete provider and model id.
type TierBackend struct {
	Provider LLMProvider
	Model    string
}

// TierRouter resolves model tiers to backends and decides which tier a
// request should use. Tier selection never falls back silently: resolving an
// unconfigured tier fails with ErrTierNotConfigured.
type TierRouter struct {
	backends map[models.ModelTier]TierBackend
	escalate map[models.TaskType]bool
}

// TierRouterConfig configures tier routing.
type TierRouterConfig struct {
	// EscalateTaskTypes lists task types that always use the quality tier.
	EscalateTaskTypes []models.TaskType
}

// NewTierRouter creates a router over the given backends.
func NewTierRouter(backends map[models.ModelTier]TierBackend, cfg TierRouterConfig) *TierRouter {
	escalate := make(map[models.TaskType]bool, len(cfg.EscalateTaskTypes))
	for _, tt := range cfg.EscalateTaskTypes {
		escalate[tt] = true
	}
	return &TierRouter{
		backends: backends,
		escalate: escalate,
	}
}

// Select picks the tier for a request: fast by default, quality when the
// retrieval pipeline flags deep reasoning, the task type requires it, or the
// caller explicitly overrides.
func (r *TierRouter) Select(req *models.AgentRequest, ragCtx *models.RagContext) models.ModelTier {
	if req.ForceTier != "" {
		return req.ForceTier
	}
	if ragCtx != nil && ragCtx.NeedsDeepReasoning {
		return models.TierQuality
	}
	if r.escalate[req.TaskType] {
		return models.TierQuality
	}
	return models.TierFast
}

// Resolve returns the backend for a tier.
func (r *TierRouter) Resolve(tier models.ModelTier) (TierBackend, error) {
	if len(r.backends) == 0 {
		return TierBackend{}, ErrNoProvider
	}
	backend, ok := r.backends[tier]
	if !ok || backend.Provider == nil {
		return TierBackend{}, ErrTierNotConfigured
	}
	return backend, nil
}
