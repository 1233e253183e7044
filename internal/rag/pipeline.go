package rag

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/replypilot/replypilot/internal/embeddings"
	"github.com/replypilot/replypilot/internal/observability"
	"github.com/replypilot/replypilot/pkg/models"
)

// RerankConfig configures the cross-source reranking step.
type RerankConfig struct {
	// Enabled turns reranking on.
	Enabled bool `yaml:"enabled"`

	// TopK is how many items survive reranking across all sources combined.
	TopK int `yaml:"top_k"`
}

// ComplexityConfig tunes the task-complexity signal. The formula is a policy
// choice behind the RagContext contract, not business logic; all knobs are
// configurable.
type ComplexityConfig struct {
	// HistoryWeight scales the conversation-length factor.
	HistoryWeight float64 `yaml:"history_weight"`

	// ContextWeight scales the merged-context-size factor.
	ContextWeight float64 `yaml:"context_weight"`

	// SourceWeight scales the distinct-contributing-sources factor.
	SourceWeight float64 `yaml:"source_weight"`

	// HistoryNorm is the turn count at which the history factor saturates.
	HistoryNorm int `yaml:"history_norm"`

	// ContextNorm is the merged-context byte size at which the context
	// factor saturates.
	ContextNorm int `yaml:"context_norm"`

	// DeepReasoningThreshold is the score above which NeedsDeepReasoning
	// is set.
	DeepReasoningThreshold float64 `yaml:"deep_reasoning_threshold"`
}

// DefaultComplexityConfig returns the default complexity tuning.
func DefaultComplexityConfig() ComplexityConfig {
	return ComplexityConfig{
		HistoryWeight:          0.4,
		ContextWeight:          0.35,
		SourceWeight:           0.25,
		HistoryNorm:            12,
		ContextNorm:            4000,
		DeepReasoningThreshold: 0.6,
	}
}

// PipelineConfig configures the retrieval pipeline.
type PipelineConfig struct {
	Rerank     RerankConfig     `yaml:"rerank"`
	Complexity ComplexityConfig `yaml:"complexity"`
}

// Pipeline fans a query out to the enabled retrieval sources, merges their
// results, and derives the task-complexity signal.
//
// Retrieval never fails the request: a broken source contributes nothing,
// and if every enabled source fails the pipeline degrades to an empty
// context so the agent can still answer without retrieved material.
type Pipeline struct {
	embedder embeddings.Provider
	sources  []Source
	cfg      PipelineConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records per-source retrieval counts and latencies.
func WithMetrics(metrics *observability.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// WithTracer spans each source query.
func WithTracer(tracer *observability.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// NewPipeline creates a retrieval pipeline over the given sources.
func NewPipeline(embedder embeddings.Provider, sources []Source, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	if cfg.Complexity == (ComplexityConfig{}) {
		cfg.Complexity = DefaultComplexityConfig()
	}

	p := &Pipeline{
		embedder: embedder,
		sources:  sources,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Retrieve runs the enabled sources concurrently and returns the merged
// context. The result is never nil.
func (p *Pipeline) Retrieve(ctx context.Context, userID, query string, history []models.ConversationTurn) *models.RagContext {
	start := time.Now()

	enabled := make([]Source, 0, len(p.sources))
	for _, s := range p.sources {
		if s.Enabled() {
			enabled = append(enabled, s)
		}
	}
	if len(enabled) == 0 {
		return p.buildContext(nil, history)
	}

	// Embed once; the vector is shared across sources.
	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		p.logger.Warn("query embedding failed, degrading to empty context",
			"error", err)
		return p.buildContext(nil, history)
	}

	q := Query{UserID: userID, Embedding: embedding}

	// Fan out to all enabled sources, fan in when every one has finished.
	results := make([][]models.RetrievedItem, len(enabled))
	var wg sync.WaitGroup
	for i, src := range enabled {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			items, err := p.retrieveFrom(ctx, src, q)
			if err != nil {
				// Partial-failure isolation: log and contribute nothing.
				p.logger.Warn("retrieval source failed",
					"source", string(src.Kind()),
					"error", err)
				return
			}
			results[i] = items
		}(i, src)
	}
	wg.Wait()

	merged := p.merge(results)
	ragCtx := p.buildContext(merged, history)

	p.logger.Debug("retrieval complete",
		"items", len(ragCtx.Items),
		"complexity", ragCtx.ComplexityScore,
		"duration_ms", time.Since(start).Milliseconds())

	return ragCtx
}

// retrieveFrom queries a single source with a span and per-source metrics
// around the call.
func (p *Pipeline) retrieveFrom(ctx context.Context, src Source, q Query) ([]models.RetrievedItem, error) {
	start := time.Now()
	if p.tracer != nil {
		srcCtx, span := p.tracer.TraceRetrieval(ctx, string(src.Kind()))
		ctx = srcCtx
		defer span.End()
	}

	items, err := src.Retrieve(ctx, q)

	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordRetrieval(string(src.Kind()), status, time.Since(start).Seconds())
	}
	return items, err
}

// merge flattens per-source results in source-priority order and sorts by
// similarity descending. The stable sort keeps priority-then-insertion
// ordering for equal scores.
func (p *Pipeline) merge(results [][]models.RetrievedItem) []models.RetrievedItem {
	var flat []models.RetrievedItem
	for _, items := range orderByPriority(results) {
		flat = append(flat, items...)
	}

	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].Similarity > flat[j].Similarity
	})

	if p.cfg.Rerank.Enabled && p.cfg.Rerank.TopK > 0 && len(flat) > p.cfg.Rerank.TopK {
		flat = flat[:p.cfg.Rerank.TopK]
	}
	return flat
}

// orderByPriority sorts result groups by their source priority so the later
// stable sort breaks score ties in favor of higher-priority sources.
func orderByPriority(results [][]models.RetrievedItem) [][]models.RetrievedItem {
	ordered := make([][]models.RetrievedItem, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return groupPriority(ordered[i]) < groupPriority(ordered[j])
	})
	return ordered
}

func groupPriority(items []models.RetrievedItem) int {
	if len(items) == 0 {
		return int(^uint(0) >> 1) // empty groups sort last
	}
	return items[0].Source.Priority()
}

// buildContext assembles the immutable RagContext from merged items.
func (p *Pipeline) buildContext(items []models.RetrievedItem, history []models.ConversationTurn) *models.RagContext {
	var sb strings.Builder
	seen := make(map[models.SourceKind]struct{})
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		sb.WriteString("[")
		sb.WriteString(string(item.Source))
		sb.WriteString("] ")
		if item.Title != "" {
			sb.WriteString(item.Title)
			sb.WriteString("\n")
		}
		sb.WriteString(item.Snippet)
		seen[item.Source] = struct{}{}
	}

	mergedText := sb.String()
	score := p.complexityScore(len(history), len(mergedText), len(seen))

	return &models.RagContext{
		Items:              items,
		MergedText:         mergedText,
		ComplexityScore:    score,
		NeedsDeepReasoning: score >= p.cfg.Complexity.DeepReasoningThreshold,
	}
}

// complexityScore is a monotonic weighted sum of saturating factors.
func (p *Pipeline) complexityScore(historyLen, contextBytes, sourceCount int) float64 {
	c := p.cfg.Complexity

	historyFactor := saturate(float64(historyLen), float64(c.HistoryNorm))
	contextFactor := saturate(float64(contextBytes), float64(c.ContextNorm))
	sourceFactor := saturate(float64(sourceCount), 3)

	score := c.HistoryWeight*historyFactor + c.ContextWeight*contextFactor + c.SourceWeight*sourceFactor
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func saturate(v, norm float64) float64 {
	if norm <= 0 {
		return 0
	}
	if v >= norm {
		return 1
	}
	return v / norm
}
