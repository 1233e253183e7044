package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/replypilot/replypilot/internal/agent"
	"github.com/replypilot/replypilot/internal/agent/providers"
	"github.com/replypilot/replypilot/internal/config"
	"github.com/replypilot/replypilot/internal/embeddings"
	openaiembed "github.com/replypilot/replypilot/internal/embeddings/openai"
	"github.com/replypilot/replypilot/internal/infra"
	"github.com/replypilot/replypilot/internal/ingest"
	"github.com/replypilot/replypilot/internal/observability"
	"github.com/replypilot/replypilot/internal/rag"
	"github.com/replypilot/replypilot/internal/usage"
	"github.com/replypilot/replypilot/internal/vecstore/pgvector"
	"github.com/replypilot/replypilot/internal/weblog"
	"github.com/replypilot/replypilot/pkg/models"
)

// buildServeCmd creates the "serve" command that starts the response core.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ReplyPilot server",
		Long: `Start the ReplyPilot server.

The server will:
1. Load configuration from the specified file
2. Connect the pgvector retrieval store and embedding provider
3. Initialize the configured model tiers (Anthropic, OpenAI)
4. Start the webhook ingestion pipeline behind its circuit breakers
5. Start the HTTP API for chat, webhooks, and health checks
6. Start the Prometheus metrics endpoint when enabled

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  replypilot serve

  # Start with custom config and debug logging
  replypilot serve --config /etc/replypilot/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	}
	if cfg.Observability.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Observability.Tracing.Endpoint
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	retriever, pipeline, closeRetrieval, err := buildRetrieval(ctx, cfg, logger, metrics, tracer)
	if err != nil {
		return err
	}
	defer closeRetrieval()

	router, err := buildTierRouter(cfg)
	if err != nil {
		return err
	}

	tools := agent.NewToolRegistry()
	if pipeline != nil {
		tools.Register(&knowledgeSearchTool{pipeline: pipeline})
	}

	tracker := usage.NewTracker(usage.TrackerConfig{})

	orch := agent.NewOrchestrator(retriever, router, tools, agent.OrchestratorConfig{
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		MaxTokens:     cfg.Agent.MaxTokens,
		SystemPrompt:  cfg.Agent.SystemPrompt,
	},
		agent.WithOrchestratorLogger(logger),
		agent.WithMetrics(metrics),
		agent.WithTracer(tracer),
		agent.WithTracker(tracker),
	)

	store, err := buildWeblogStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := weblog.NewRecorder(store,
		weblog.WithRecorderLogger(logger),
		weblog.WithRecorderMetrics(metrics),
	)

	janitor, err := weblog.NewJanitor(store, weblog.JanitorConfig{
		Retention: time.Duration(cfg.WebhookLog.RetentionDays) * 24 * time.Hour,
		Schedule:  cfg.WebhookLog.CleanupSchedule,
	}, weblog.WithJanitorLogger(logger))
	if err != nil {
		return fmt.Errorf("creating retention janitor: %w", err)
	}
	janitor.Start(ctx)
	defer janitor.Stop()

	breakers := infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
		FailureThreshold: cfg.Resilience.CircuitBreaker.FailureThreshold,
		Cooldown:         cfg.Resilience.CircuitBreaker.Cooldown,
		OnStateChange: func(from, to string) {
			logger.Warn(context.Background(), "circuit breaker state change",
				"from", from, "to", to)
		},
	})

	processor := ingest.NewProcessor(
		&emailEventHandler{orch: orch, logger: logger},
		recorder,
		breakers,
		ingest.WithProcessorLogger(logger),
		ingest.WithProcessorMetrics(metrics),
	)

	if cfg.Observability.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Observability.Metrics.Addr, logger)
	}

	api := &apiServer{
		orch:      orch,
		processor: processor,
		recorder:  recorder,
		breakers:  breakers,
		logger:    logger,
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildRetrieval assembles the embedding provider, vector store, and
// retrieval pipeline. A missing embedding key or database URL degrades to no
// retrieval rather than failing startup: the agent still answers, just
// without inbox context.
func buildRetrieval(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (agent.Retriever, *rag.Pipeline, func(), error) {
	noop := func() {}

	embedder, err := openaiembed.New(openaiembed.Config{
		APIKey: cfg.Embedding.APIKey,
		Model:  cfg.Embedding.Model,
	})
	if err != nil {
		if errors.Is(err, embeddings.ErrNotConfigured) {
			logger.Warn(ctx, "embedding provider not configured; retrieval disabled")
			return nil, nil, noop, nil
		}
		return nil, nil, noop, fmt.Errorf("creating embedding provider: %w", err)
	}

	if cfg.Database.URL == "" {
		logger.Warn(ctx, "database url not set; retrieval disabled")
		return nil, nil, noop, nil
	}
	store, err := pgvector.New(pgvector.Config{
		DSN:             cfg.Database.URL,
		Dimension:       cfg.Embedding.Dimension,
		RunMigrations:   cfg.Database.RunMigrations,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, noop, fmt.Errorf("connecting vector store: %w", err)
	}

	sources := []rag.Source{
		rag.NewKnowledgeBaseSource(sourceConfig(cfg.Retrieval.KnowledgeBase), store),
		rag.NewHistoricalCaseSource(sourceConfig(cfg.Retrieval.HistoricalCases), store),
		rag.NewConversationSource(sourceConfig(cfg.Retrieval.Conversations), store),
	}

	complexity := rag.DefaultComplexityConfig()
	complexity.HistoryWeight = cfg.Retrieval.Complexity.HistoryWeight
	complexity.ContextWeight = cfg.Retrieval.Complexity.ContextWeight
	complexity.SourceWeight = cfg.Retrieval.Complexity.SourcesWeight
	complexity.DeepReasoningThreshold = cfg.Retrieval.Complexity.DeepReasoningThreshold

	pipeline := rag.NewPipeline(embedder, sources, rag.PipelineConfig{
		Rerank: rag.RerankConfig{
			Enabled: cfg.Retrieval.Rerank.Enabled,
			TopK:    cfg.Retrieval.Rerank.TopK,
		},
		Complexity: complexity,
	}, rag.WithLogger(logger.Slog()), rag.WithMetrics(metrics), rag.WithTracer(tracer))

	return pipeline, pipeline, func() { store.Close() }, nil
}

func sourceConfig(src config.SourceConfig) rag.SourceConfig {
	return rag.SourceConfig{
		Enabled:  src.Enabled,
		TopK:     src.TopK,
		MinScore: src.MinScore,
	}
}

// buildTierRouter creates one provider per configured tier.
func buildTierRouter(cfg *config.Config) (*agent.TierRouter, error) {
	backends := make(map[models.ModelTier]agent.TierBackend, len(cfg.LLM.Tiers))
	for name, tier := range cfg.LLM.Tiers {
		provider, err := buildProvider(tier, cfg.Agent.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("llm.tiers.%s: %w", name, err)
		}
		backends[models.ModelTier(name)] = agent.TierBackend{
			Provider: provider,
			Model:    tier.Model,
		}
	}

	escalate := make([]models.TaskType, 0, len(cfg.LLM.EscalateTaskTypes))
	for _, tt := range cfg.LLM.EscalateTaskTypes {
		escalate = append(escalate, models.TaskType(tt))
	}

	return agent.NewTierRouter(backends, agent.TierRouterConfig{
		EscalateTaskTypes: escalate,
	}), nil
}

func buildProvider(tier config.TierConfig, maxTokens int) (agent.LLMProvider, error) {
	switch tier.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       tier.APIKey,
			BaseURL:      tier.BaseURL,
			DefaultModel: tier.Model,
			MaxTokens:    maxTokens,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       tier.APIKey,
			BaseURL:      tier.BaseURL,
			DefaultModel: tier.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", tier.Provider)
	}
}

func buildWeblogStore(cfg *config.Config) (weblog.Store, error) {
	switch cfg.WebhookLog.Backend {
	case "postgres":
		return weblog.NewPostgresStore(weblog.PostgresConfig{DSN: cfg.WebhookLog.DSN})
	case "sqlite":
		return weblog.NewSQLiteStore(cfg.WebhookLog.Path)
	default:
		return weblog.NewMemoryStore(), nil
	}
}

func serveMetrics(ctx context.Context, addr string, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "metrics server failed", "error", err)
	}
}

// emailEventHandler turns validated inbound events into agent work.
type emailEventHandler struct {
	orch   *agent.Orchestrator
	logger *observability.Logger
}

func (h *emailEventHandler) Handle(ctx context.Context, evt ingest.Event) error {
	switch e := evt.(type) {
	case *ingest.InboundEmailEvent:
		// Draft a reply for the new email. The draft is logged; delivery is
		// the inbox application's concern.
		resp, err := h.orch.ProcessMessage(ctx, &models.AgentRequest{
			EmailID:  e.EmailID,
			UserID:   e.UserID,
			Message:  e.Body,
			TaskType: models.TaskDraftReply,
		})
		if err != nil {
			return fmt.Errorf("drafting reply for email %s: %w", e.EmailID, err)
		}
		h.logger.Info(ctx, "reply drafted",
			"email_id", e.EmailID,
			"model", resp.ModelUsed,
			"tier", string(resp.Tier),
			"latency_ms", resp.LatencyMs)
		return nil

	case *ingest.EmailStatusEvent:
		h.logger.Info(ctx, "email status updated",
			"email_id", e.EmailID, "status", e.Status)
		return nil

	default:
		return fmt.Errorf("unhandled event kind %q", evt.Kind())
	}
}

// knowledgeSearchTool lets the model run an extra retrieval pass with its own
// query when the injected context does not cover the question.
type knowledgeSearchTool struct {
	pipeline *rag.Pipeline
}

func (t *knowledgeSearchTool) Name() string { return "search_support_knowledge" }

func (t *knowledgeSearchTool) Description() string {
	return "Search the support knowledge base, historical cases, and past conversations for material relevant to a query. Use when the provided context does not answer the question."
}

func (t *knowledgeSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"user_id": {"type": "string", "description": "Inbox owner to scope the search to"}
		}
	}`)
}

func (t *knowledgeSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		Query  string `json:"query"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: "invalid parameters: " + err.Error(), IsError: true}, nil
	}
	if strings.TrimSpace(p.Query) == "" {
		return &agent.ToolResult{Content: "query is required", IsError: true}, nil
	}

	ragCtx := t.pipeline.Retrieve(ctx, p.UserID, p.Query, nil)
	if ragCtx.Empty() {
		return &agent.ToolResult{Content: "No relevant material found."}, nil
	}

	var b strings.Builder
	for i, item := range ragCtx.Items {
		fmt.Fprintf(&b, "%d. [%s] %s (similarity %.2f)\n%s\n",
			i+1, item.Source, item.Title, item.Similarity, item.Snippet)
	}
	return &agent.ToolResult{Content: b.String()}, nil
}

// apiServer exposes the HTTP API.
type apiServer struct {
	orch      *agent.Orchestrator
	processor *ingest.Processor
	recorder  *weblog.Recorder
	breakers  *infra.CircuitBreakerRegistry
	logger    *observability.Logger
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/webhook", s.handleWebhook)
	mux.HandleFunc("GET /v1/weblog/metrics", s.handleWeblogMetrics)
	mux.HandleFunc("POST /v1/weblog/metrics/reset", s.handleWeblogReset)
	mux.HandleFunc("GET /v1/weblog/recent", s.handleWeblogRecent)
	mux.HandleFunc("GET /v1/breakers", s.handleBreakers)
	return mux
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.orch.ProcessMessage(r.Context(), &req)
	if err != nil {
		s.logger.Error(r.Context(), "chat request failed", "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, agent.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if err := s.processor.Process(r.Context(), raw); err != nil {
		switch {
		case errors.Is(err, infra.ErrCircuitOpen):
			writeError(w, http.StatusServiceUnavailable, "processing temporarily suspended")
		case errors.Is(err, ingest.ErrUnknownEventKind):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *apiServer) handleWeblogMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recorder.GetMetrics())
}

func (s *apiServer) handleWeblogReset(w http.ResponseWriter, r *http.Request) {
	s.recorder.ResetMetrics()
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleWeblogRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.recorder.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading log failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *apiServer) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breakers.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
