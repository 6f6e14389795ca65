package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/vitalcore/internal/events"
	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/risk"
	"github.com/nidhogg/vitalcore/internal/store"
	"go.uber.org/zap"
)

// Transport pushes named events to UI clients.
type Transport interface {
	Emit(name string, payload any)
}

// Notifier delivers HIGH-risk plans out of band.
type Notifier interface {
	Notify(ctx context.Context, plan ActionPlan) error
}

// PlanArchive keeps every plan for later review.
type PlanArchive interface {
	ArchivePlan(ctx context.Context, p *store.PlanRecord) (string, error)
}

// MemoryWriter records the run as an episode.
type MemoryWriter interface {
	Add(ctx context.Context, rawLog string) (memory.Entry, error)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithTransport emits progress to UI clients.
func WithTransport(t Transport) PipelineOption { return func(p *Pipeline) { p.transport = t } }

// WithNotifiers adds out-of-band channels for HIGH plans.
func WithNotifiers(n ...Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifiers = append(p.notifiers, n...) }
}

// WithArchive stores plans in a.
func WithArchive(a PlanArchive) PipelineOption { return func(p *Pipeline) { p.archive = a } }

// WithMemory records every run as an episode.
func WithMemory(m MemoryWriter) PipelineOption { return func(p *Pipeline) { p.memory = m } }

// Pipeline turns DATA_INGESTED events into plans and interventions.
type Pipeline struct {
	council   *Council
	bus       *events.Bus
	transport Transport
	notifiers []Notifier
	archive   PlanArchive
	memory    MemoryWriter
	logger    *zap.Logger
}

// NewPipeline wires c to bus. Call Attach to subscribe.
func NewPipeline(c *Council, bus *events.Bus, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{council: c, bus: bus, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attach subscribes the pipeline to DATA_INGESTED.
func (p *Pipeline) Attach() error {
	return p.bus.Subscribe(events.DataIngested, p.Handle)
}

// Handle runs the council for one ingested event. Downstream failures are
// logged; the event itself never fails.
func (p *Pipeline) Handle(ctx context.Context, e events.Event) error {
	// Another process already ran the council for a replayed reading.
	if events.IsReplay(e) {
		p.logger.Debug("skipping replayed reading", zap.String("source", e.Source))
		return nil
	}
	text := e.String("text")
	if text == "" {
		p.logger.Warn("ingested event without text", zap.String("source", e.Source))
		return nil
	}
	kind := e.String("type")
	duration, ok := e.Int("duration")
	if !ok {
		duration, _ = risk.ExtractDuration(text)
	}

	p.emit("sensor_data", e.Payload)

	plan, _, err := p.council.Run(ctx, text, e.Source, duration)
	if err != nil {
		p.logger.Error("council run failed", zap.String("source", e.Source), zap.Error(err))
		return nil
	}
	p.emit("analysis_result", plan)

	if err := p.bus.Publish(ctx, events.New(events.AnalysisCompleted, "council", map[string]any{
		"summary":    plan.Summary,
		"risk_level": string(plan.RiskLevel),
		"risk_type":  plan.RiskType,
		"input_type": kind,
	})); err != nil {
		p.logger.Warn("publish analysis failed", zap.Error(err))
	}

	if plan.RiskLevel == risk.High {
		p.intervene(ctx, plan)
	}
	p.record(ctx, e, text, plan)
	return nil
}

func (p *Pipeline) intervene(ctx context.Context, plan ActionPlan) {
	for _, n := range p.notifiers {
		if err := n.Notify(ctx, plan); err != nil {
			p.logger.Warn("notify failed", zap.Error(err))
		}
	}
	p.emit("intervention", map[string]any{
		"message":    plan.Message(),
		"risk_level": string(plan.RiskLevel),
		"actions":    plan.Actions,
	})
	if err := p.bus.Publish(ctx, events.New(events.ActionRequired, "council", map[string]any{
		"message":   plan.Message(),
		"risk_type": plan.RiskType,
	})); err != nil {
		p.logger.Warn("publish action required failed", zap.Error(err))
	}
}

func (p *Pipeline) record(ctx context.Context, e events.Event, text string, plan ActionPlan) {
	if p.archive != nil {
		id, err := p.archive.ArchivePlan(ctx, &store.PlanRecord{
			Source:          e.Source,
			InputText:       text,
			Summary:         plan.Summary,
			RiskLevel:       string(plan.RiskLevel),
			RiskType:        plan.RiskType,
			Actions:         plan.Actions,
			GraphHighlights: plan.GraphHighlights,
			Diagnostics:     plan.Diagnostics,
		})
		if err != nil {
			p.logger.Warn("archive plan failed", zap.Error(err))
		} else {
			p.logger.Debug("plan archived", zap.String("id", id))
		}
	}

	if p.memory != nil {
		if _, err := p.memory.Add(ctx, episodeLog(e, text, plan)); err != nil {
			p.logger.Warn("record episode failed", zap.Error(err))
		}
	}
}

func (p *Pipeline) emit(name string, payload any) {
	if p.transport != nil {
		p.transport.Emit(name, payload)
	}
}

func episodeLog(e events.Event, text string, plan ActionPlan) string {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Timestamp: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "Input Source: %s\n", e.Source)
	fmt.Fprintf(&b, "Input Text: %s\n", text)
	fmt.Fprintf(&b, "Risk Level: %s\n", plan.RiskLevel)
	fmt.Fprintf(&b, "Summary: %s\n", plan.Summary)
	fmt.Fprintf(&b, "Actions: %s", strings.Join(plan.Actions, "; "))
	return b.String()
}

// LogNotifier writes plans to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, plan ActionPlan) error {
	n.Logger.Warn("intervention",
		zap.String("risk_type", plan.RiskType),
		zap.String("message", plan.Message()))
	return nil
}
