package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replypilot/replypilot/internal/infra"
	"github.com/replypilot/replypilot/internal/observability"
	"github.com/replypilot/replypilot/internal/weblog"
	"github.com/replypilot/replypilot/pkg/models"
)

// ErrUnknownEventKind is returned when an event's kind has no registered
// handler path. The event is still logged as a failed attempt.
var ErrUnknownEventKind = errors.New("unknown event kind")

// stageParse is the log stage for attempts that fail before a typed event
// exists.
const stageParse = "parse"

// Handler processes one typed event. Implementations are the downstream
// email-processing collaborators the circuit breaker guards.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Processor runs inbound events through boundary validation, a per-kind
// circuit breaker, and the handler, recording every attempt to the webhook
// log. Breaker rejections are logged as failures like any other outcome;
// they are never silently dropped. The log and its rolling metrics are
// maintained independently of the breaker's own consecutive-failure
// counters.
type Processor struct {
	handler  Handler
	recorder *weblog.Recorder
	breakers *infra.CircuitBreakerRegistry
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// ProcessorOption customizes processor construction.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets the structured logger.
func WithProcessorLogger(l *observability.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithProcessorMetrics mirrors breaker state and errors into Prometheus
// metrics.
func WithProcessorMetrics(m *observability.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithProcessorNow overrides the clock, for tests.
func WithProcessorNow(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor creates a processor. One breaker per event kind is drawn from
// the registry, so a failing email pipeline does not trip status-update
// processing.
func NewProcessor(handler Handler, recorder *weblog.Recorder, breakers *infra.CircuitBreakerRegistry, opts ...ProcessorOption) *Processor {
	p := &Processor{
		handler:  handler,
		recorder: recorder,
		breakers: breakers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates and handles one raw inbound event.
//
// Validation failures are recorded under the parse stage and do not touch
// any breaker: malformed input is the sender's fault, not a downstream
// failure. Unknown event kinds are rejected with ErrUnknownEventKind and
// recorded. For known kinds the handler runs under that kind's breaker;
// an open breaker rejects with infra.ErrCircuitOpen, and the rejection is
// recorded as a failed attempt with the handler never invoked.
func (p *Processor) Process(ctx context.Context, raw []byte) error {
	start := p.now()

	evt, err := ParseEvent(raw)
	if err != nil {
		p.record(ctx, stageParse, start, nil, err)
		return fmt.Errorf("parsing event: %w", err)
	}

	if evt.Kind() == KindUnknown {
		err := fmt.Errorf("%w: %q", ErrUnknownEventKind, evt.(*UnknownEvent).RawKind)
		p.record(ctx, stageParse, start, evt, err)
		return err
	}

	stage := string(evt.Kind())
	cb := p.breakers.Get(stage)

	err = cb.Execute(ctx, func(ctx context.Context) error {
		return p.handler.Handle(ctx, evt)
	})

	p.record(ctx, stage, start, evt, err)
	p.observeBreaker(stage, cb)

	if err != nil {
		if errors.Is(err, infra.ErrCircuitOpen) {
			return err
		}
		return fmt.Errorf("processing %s event: %w", stage, err)
	}
	return nil
}

// record writes one attempt to the webhook log. A log write failure is
// itself logged but never surfaced; recording is best-effort.
func (p *Processor) record(ctx context.Context, stage string, start time.Time, evt Event, procErr error) {
	attempt := weblog.Attempt{
		Stage:    stage,
		Outcome:  models.OutcomeSuccess,
		Duration: p.now().Sub(start),
	}
	if procErr != nil {
		attempt.Outcome = models.OutcomeFailure
		attempt.ErrorSummary = procErr.Error()
	}
	if evt != nil {
		attempt.Metadata = map[string]string{
			"event_id": evt.EventID(),
			"kind":     string(evt.Kind()),
		}
	}

	if _, err := p.recorder.Record(ctx, attempt); err != nil && p.logger != nil {
		p.logger.Error(ctx, "failed to record ingestion attempt",
			"stage", stage, "error", err)
	}

	if p.metrics != nil && procErr != nil {
		p.metrics.RecordError("ingest", errorType(stage, procErr))
	}
}

func (p *Processor) observeBreaker(stage string, cb *infra.CircuitBreaker) {
	if p.metrics == nil {
		return
	}
	p.metrics.SetCircuitBreakerState(stage, breakerStateValue(cb.State()))
}

func breakerStateValue(state string) float64 {
	switch state {
	case infra.CircuitOpen:
		return 1
	case infra.CircuitHalfOpen:
		return 2
	default:
		return 0
	}
}

func errorType(stage string, err error) string {
	switch {
	case errors.Is(err, infra.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrUnknownEventKind):
		return "unknown_kind"
	case stage == stageParse:
		return "parse"
	default:
		return "handler"
	}
}
