package council

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"github.com/nidhogg/vitalcore/internal/risk"
	"github.com/nidhogg/vitalcore/internal/workflow"
	"go.uber.org/zap"
)

const (
	nodeTriage      = "triage"
	nodeDoctor      = "doctor"
	nodeCoach       = "coach"
	nodeSynthesizer = "synthesizer"

	recallK         = 3
	defaultRiskType = "sedentary"
)

// Recaller finds past episodes similar to the current input.
type Recaller interface {
	Recall(ctx context.Context, query string, k int) ([]memory.Entry, error)
}

// Scorer is the deterministic and graph risk engine.
type Scorer interface {
	CalculateDeterministicRisk(text string, durationMinutes int) risk.Result
	AssessComplexRisks(ctx context.Context, memories []memory.Entry) risk.ComplexResult
}

// Prompts are the persona instructions of the council.
type Prompts struct {
	Triage      string
	Doctor      string
	Coach       string
	Synthesizer string
}

// Council deliberates over one input and produces an ActionPlan.
type Council struct {
	engine   *workflow.Engine[State]
	oracle   oracle.Oracle
	prompts  Prompts
	recaller Recaller
	scorer   Scorer
	logger   *zap.Logger
}

// New compiles the council workflow. recaller may be nil.
func New(o oracle.Oracle, prompts Prompts, recaller Recaller, scorer Scorer, logger *zap.Logger) (*Council, error) {
	c := &Council{
		oracle:   o,
		prompts:  prompts,
		recaller: recaller,
		scorer:   scorer,
		logger:   logger,
	}

	g := workflow.NewGraph(stateSchema).
		AddNode(nodeTriage, c.triage).
		AddNode(nodeDoctor, c.doctor).
		AddNode(nodeCoach, c.coach).
		AddNode(nodeSynthesizer, c.synthesize).
		SetEntry(nodeTriage).
		AddConditionalEdges(nodeTriage, route, nodeSynthesizer, nodeDoctor, nodeCoach).
		AddEdge(nodeDoctor, nodeSynthesizer).
		AddEdge(nodeCoach, nodeSynthesizer).
		OnError(func(node string, err error) State {
			return State{Diagnostics: []string{fmt.Sprintf("%s: %v", node, err)}}
		})

	engine, err := g.Compile(workflow.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("compile council: %w", err)
	}
	c.engine = engine
	return c, nil
}

// Run deliberates over input. It always yields a plan; a failed
// synthesis produces a degraded one.
func (c *Council) Run(ctx context.Context, input, source string, durationMinutes int) (ActionPlan, State, error) {
	initial := State{InputData: input, Source: source, Duration: durationMinutes}
	final, report, err := c.engine.Run(ctx, initial)
	if err != nil {
		return ActionPlan{}, final, fmt.Errorf("run council: %w", err)
	}

	plan := fallbackPlan(final.Deterministic, "Council produced no plan")
	if final.Plan != nil {
		plan = *final.Plan
	}
	plan.Diagnostics = append(plan.Diagnostics, final.Diagnostics...)

	c.logger.Info("council finished",
		zap.String("source", source),
		zap.String("risk_level", string(plan.RiskLevel)),
		zap.Int("nodes", len(report.Results)),
		zap.Int("diagnostics", len(plan.Diagnostics)))
	return plan, final, nil
}

func route(s State) []string {
	if s.Triage == nil {
		return []string{nodeDoctor, nodeCoach}
	}
	var out []string
	if s.Triage.NeedsDoctor {
		out = append(out, nodeDoctor)
	}
	if s.Triage.NeedsCoach {
		out = append(out, nodeCoach)
	}
	return out
}

func (c *Council) triage(ctx context.Context, s State) (State, error) {
	var update State
	if c.recaller != nil {
		past, err := c.recaller.Recall(ctx, s.InputData, recallK)
		if err != nil {
			c.logger.Warn("recall past episodes failed", zap.Error(err))
		}
		update.PastMemories = past
	}

	decision, err := oracle.Generate[TriageDecision](ctx, oracle.ForRole(c.oracle, nodeTriage),
		c.prompts.Triage, "Input Data: "+s.InputData)
	if err != nil {
		c.logger.Warn("triage failed, consulting both experts", zap.Error(err))
		decision = TriageDecision{NeedsDoctor: true, NeedsCoach: true, Reasoning: "Error in Triage"}
		update.Diagnostics = []string{"triage: " + err.Error()}
	}
	update.Triage = &decision
	update.Log = []string{fmt.Sprintf("Triage: doctor=%t coach=%t (%s)",
		decision.NeedsDoctor, decision.NeedsCoach, decision.Reasoning)}
	return update, nil
}

func (c *Council) doctor(ctx context.Context, s State) (State, error) {
	a, diag := c.assess(ctx, nodeDoctor, c.prompts.Doctor, s)
	return State{Doctor: &a, Log: []string{"Doctor: " + a.Assessment}, Diagnostics: diag}, nil
}

func (c *Council) coach(ctx context.Context, s State) (State, error) {
	a, diag := c.assess(ctx, nodeCoach, c.prompts.Coach, s)
	return State{Coach: &a, Log: []string{"Coach: " + a.Assessment}, Diagnostics: diag}, nil
}

func (c *Council) assess(ctx context.Context, role, prompt string, s State) (Assessment, []string) {
	background := "Input Data: " + s.InputData + "\n" + pastContext(s.PastMemories)
	a, err := oracle.Generate[Assessment](ctx, oracle.ForRole(c.oracle, role), prompt, background)
	if err != nil {
		c.logger.Warn("expert assessment failed", zap.String("role", role), zap.Error(err))
		return Assessment{RiskScore: 0, Assessment: "Error", IdentifiedIssues: []string{}}, []string{role + ": " + err.Error()}
	}
	return a, nil
}

func (c *Council) synthesize(ctx context.Context, s State) (State, error) {
	duration := s.Duration
	if duration <= 0 {
		duration, _ = risk.ExtractDuration(s.InputData)
	}
	det := c.scorer.CalculateDeterministicRisk(s.InputData, duration)
	graph := c.scorer.AssessComplexRisks(ctx, s.PastMemories)

	var b strings.Builder
	fmt.Fprintf(&b, "Input Data: %s\n", s.InputData)
	fmt.Fprintf(&b, "Doctor Assessment: %s\n", describe(s.Doctor))
	fmt.Fprintf(&b, "Coach Assessment: %s\n", describe(s.Coach))
	fmt.Fprintf(&b, "Deterministic Risk: %.2f (%s) %s\n", det.Score, det.Level, strings.Join(det.Reasoning, "; "))
	fmt.Fprintf(&b, "Graph Risk: %.2f %s (nodes: %s)\n", graph.GraphScore,
		strings.Join(graph.GraphReasons, "; "), strings.Join(graph.InvolvedNodes, ", "))
	b.WriteString(pastContext(s.PastMemories))

	update := State{Deterministic: &det, Graph: &graph}
	plan, err := oracle.Generate[ActionPlan](ctx, oracle.ForRole(c.oracle, nodeSynthesizer), c.prompts.Synthesizer, b.String())
	if err != nil {
		c.logger.Warn("synthesis failed, degraded plan", zap.Error(err))
		plan = fallbackPlan(&det, "Error: council synthesis unavailable")
		update.Diagnostics = []string{"synthesizer: " + err.Error()}
	} else {
		plan = normalize(plan, det, graph)
	}
	update.Plan = &plan
	update.Log = []string{fmt.Sprintf("Synthesizer: %s [%s]", plan.Summary, plan.RiskLevel)}
	return update, nil
}

// normalize keeps the plan consistent with the deterministic floor.
func normalize(p ActionPlan, det risk.Result, graph risk.ComplexResult) ActionPlan {
	p.RiskLevel = risk.Level(strings.ToUpper(strings.TrimSpace(string(p.RiskLevel))))
	switch p.RiskLevel {
	case risk.Low, risk.Medium, risk.High:
	default:
		p.RiskLevel = det.Level
	}
	if det.Level == risk.High {
		p.RiskLevel = risk.High
	}
	if p.RiskType == "" {
		p.RiskType = defaultRiskType
	}
	if p.Actions == nil {
		p.Actions = []string{}
	}
	if len(p.GraphHighlights) == 0 {
		p.GraphHighlights = append([]string{}, graph.InvolvedNodes...)
	}
	p.Diagnostics = nil
	return p
}

// fallbackPlan is the degraded plan. A HIGH deterministic score survives.
func fallbackPlan(det *risk.Result, summary string) ActionPlan {
	level := risk.Unknown
	if det != nil && det.Level == risk.High {
		level = risk.High
	}
	return ActionPlan{
		Summary:         summary,
		RiskLevel:       level,
		RiskType:        defaultRiskType,
		Actions:         []string{},
		GraphHighlights: []string{},
	}
}

func describe(a *Assessment) string {
	if a == nil {
		return "not consulted"
	}
	data, err := json.Marshal(a)
	if err != nil {
		return a.Assessment
	}
	return string(data)
}

func pastContext(past []memory.Entry) string {
	if len(past) == 0 {
		return "Relevant Past Episodes: none"
	}
	var b strings.Builder
	b.WriteString("Relevant Past Episodes:")
	for _, e := range past {
		b.WriteString("\n- ")
		b.WriteString(e.String())
	}
	return b.String()
}
