package council

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/vitalcore/internal/events"
	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"github.com/nidhogg/vitalcore/internal/risk"
	"github.com/nidhogg/vitalcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testPrompts = Prompts{Triage: "triage", Doctor: "doctor", Coach: "coach", Synthesizer: "synth"}

type scriptOracle struct {
	mu      sync.Mutex
	replies map[string]string
	calls   map[string]int
	last    map[string]string
}

func newScript(replies map[string]string) *scriptOracle {
	return &scriptOracle{replies: replies, calls: map[string]int{}, last: map[string]string{}}
}

func (o *scriptOracle) GenerateStructured(_ context.Context, prompt string, _ oracle.Schema, background string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[prompt]++
	o.last[prompt] = background
	reply, ok := o.replies[prompt]
	if !ok {
		return "", errors.New(prompt + " unavailable")
	}
	return reply, nil
}

func (o *scriptOracle) GenerateChat(context.Context, []oracle.Message) (string, error) {
	return "", errors.New("not used")
}

func (o *scriptOracle) count(prompt string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[prompt]
}

type fakeScorer struct {
	det      risk.Result
	graph    risk.ComplexResult
	duration int
	synced   int
}

func (s *fakeScorer) CalculateDeterministicRisk(_ string, d int) risk.Result {
	s.duration = d
	return s.det
}

func (s *fakeScorer) AssessComplexRisks(_ context.Context, m []memory.Entry) risk.ComplexResult {
	s.synced = len(m)
	return s.graph
}

type fakeRecaller struct{ entries []memory.Entry }

func (r fakeRecaller) Recall(context.Context, string, int) ([]memory.Entry, error) {
	return r.entries, nil
}

const (
	lowPlan  = `{"summary":"All fine","risk_level":"low","risk_type":"","actions":["Stretch"],"graph_highlights":[]}`
	highPlan = `{"summary":"Stop now","risk_level":"HIGH","risk_type":"fatigue","actions":["Sleep"],"graph_highlights":["m1"]}`
	verdict  = `{"risk_score":0.4,"assessment":"tired","identified_issues":["fatigue"]}`
)

func newCouncil(t *testing.T, o oracle.Oracle, s Scorer, r Recaller) *Council {
	t.Helper()
	c, err := New(o, testPrompts, r, s, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestCouncilRoutesToDoctorOnly(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":true,"needs_coach":false,"reasoning":"headache"}`,
		"doctor": verdict,
		"synth":  lowPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Level: risk.Low}}, nil)

	plan, state, err := c.Run(context.Background(), "I have a headache", "test", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, o.count("doctor"))
	assert.Equal(t, 0, o.count("coach"))
	assert.Equal(t, 1, o.count("synth"))
	assert.NotNil(t, state.Doctor)
	assert.Nil(t, state.Coach)
	assert.Equal(t, risk.Low, plan.RiskLevel)
	assert.Equal(t, "sedentary", plan.RiskType)
	assert.Empty(t, plan.Diagnostics)
	assert.Len(t, state.Log, 3)
}

func TestCouncilJoinsBothExperts(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":true,"needs_coach":true,"reasoning":"both"}`,
		"doctor": verdict,
		"coach":  verdict,
		"synth":  lowPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Level: risk.Low}}, nil)

	_, state, err := c.Run(context.Background(), "coding all night, eyes burn", "test", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, o.count("synth"), "synthesizer must run once after both branches")
	assert.NotNil(t, state.Doctor)
	assert.NotNil(t, state.Coach)
	assert.Contains(t, o.last["synth"], "Doctor Assessment: {")
	assert.Contains(t, o.last["synth"], "Coach Assessment: {")
}

func TestCouncilSkipsExpertsWhenNoneNeeded(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":false,"needs_coach":false,"reasoning":"noise"}`,
		"synth":  lowPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Level: risk.Low}}, nil)

	_, state, err := c.Run(context.Background(), "ok", "test", 0)
	require.NoError(t, err)
	assert.Nil(t, state.Doctor)
	assert.Nil(t, state.Coach)
	assert.Equal(t, 1, o.count("synth"))
	assert.Contains(t, o.last["synth"], "Doctor Assessment: not consulted")
}

func TestTriageFailureConsultsBothExperts(t *testing.T) {
	o := newScript(map[string]string{
		"doctor": verdict,
		"coach":  verdict,
		"synth":  lowPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Level: risk.Low}}, nil)

	plan, state, err := c.Run(context.Background(), "text", "test", 0)
	require.NoError(t, err)
	assert.Equal(t, "Error in Triage", state.Triage.Reasoning)
	assert.Equal(t, 1, o.count("doctor"))
	assert.Equal(t, 1, o.count("coach"))
	require.Len(t, plan.Diagnostics, 1)
	assert.True(t, strings.HasPrefix(plan.Diagnostics[0], "triage:"))
}

func TestExpertFailureDegradesToNeutral(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":true,"needs_coach":false,"reasoning":"x"}`,
		"synth":  lowPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Level: risk.Low}}, nil)

	plan, state, err := c.Run(context.Background(), "text", "test", 0)
	require.NoError(t, err)
	require.NotNil(t, state.Doctor)
	assert.Equal(t, "Error", state.Doctor.Assessment)
	assert.Zero(t, state.Doctor.RiskScore)
	assert.Len(t, plan.Diagnostics, 1)
}

func TestSynthesisFailure(t *testing.T) {
	triage := `{"needs_doctor":false,"needs_coach":false,"reasoning":"x"}`

	t.Run("unknown when deterministic is not high", func(t *testing.T) {
		c := newCouncil(t, newScript(map[string]string{"triage": triage}),
			&fakeScorer{det: risk.Result{Score: 0.3, Level: risk.Low}}, nil)
		plan, _, err := c.Run(context.Background(), "text", "test", 0)
		require.NoError(t, err)
		assert.Equal(t, risk.Unknown, plan.RiskLevel)
		assert.Contains(t, plan.Summary, "Error")
		assert.NotEmpty(t, plan.Diagnostics)
	})

	t.Run("high deterministic survives", func(t *testing.T) {
		c := newCouncil(t, newScript(map[string]string{"triage": triage}),
			&fakeScorer{det: risk.Result{Score: 0.9, Level: risk.High}}, nil)
		plan, _, err := c.Run(context.Background(), "text", "test", 0)
		require.NoError(t, err)
		assert.Equal(t, risk.High, plan.RiskLevel)
	})
}

func TestSynthesizerNeverUndercutsDeterministicHigh(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":false,"needs_coach":false,"reasoning":"x"}`,
		"synth":  lowPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Score: 0.8, Level: risk.High}}, nil)

	plan, _, err := c.Run(context.Background(), "chest pain after 7 hours", "test", 0)
	require.NoError(t, err)
	assert.Equal(t, risk.High, plan.RiskLevel)
}

func TestSynthesizerUsesDurationAndMemories(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":false,"needs_coach":false,"reasoning":"x"}`,
		"synth":  lowPlan,
	})
	scorer := &fakeScorer{
		det:   risk.Result{Level: risk.Low},
		graph: risk.ComplexResult{GraphScore: 0.5, InvolvedNodes: []string{"m1", "m2"}},
	}
	past := []memory.Entry{{ID: "m1", Statement: "coding"}, {ID: "m2", Statement: "coding more"}}
	c := newCouncil(t, o, scorer, fakeRecaller{entries: past})

	plan, _, err := c.Run(context.Background(), "Coding. Duration: 300", "test", 0)
	require.NoError(t, err)
	assert.Equal(t, 300, scorer.duration)
	assert.Equal(t, 2, scorer.synced)
	assert.Equal(t, []string{"m1", "m2"}, plan.GraphHighlights)
	assert.Contains(t, o.last["doctor"]+o.last["synth"], "Relevant Past Episodes:")
}

func TestPlanMessage(t *testing.T) {
	assert.Equal(t, "Tired. Advice: Sleep", ActionPlan{Summary: "Tired.", Actions: []string{"Sleep", "Eat"}}.Message())
	assert.Equal(t, "Tired. Advice: Take a break.", ActionPlan{Summary: "Tired."}.Message())
}

type recordingTransport struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingTransport) Emit(name string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

type countingNotifier struct {
	mu    sync.Mutex
	plans []ActionPlan
}

func (n *countingNotifier) Notify(_ context.Context, p ActionPlan) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plans = append(n.plans, p)
	return nil
}

type memWriter struct{ logs []string }

func (m *memWriter) Add(_ context.Context, raw string) (memory.Entry, error) {
	m.logs = append(m.logs, raw)
	return memory.Entry{ID: "e1", Statement: raw}, nil
}

type planArchive struct{ records []*store.PlanRecord }

func (a *planArchive) ArchivePlan(_ context.Context, p *store.PlanRecord) (string, error) {
	a.records = append(a.records, p)
	return "p1", nil
}

func TestPipelineHighRiskIntervenes(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":true,"needs_coach":false,"reasoning":"x"}`,
		"doctor": verdict,
		"synth":  highPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Level: risk.Medium}}, nil)

	bus := events.NewBus(zap.NewNop())
	transport := &recordingTransport{}
	notifier := &countingNotifier{}
	mem := &memWriter{}
	archive := &planArchive{}
	p := NewPipeline(c, bus, zap.NewNop(),
		WithTransport(transport), WithNotifiers(notifier), WithMemory(mem), WithArchive(archive))
	require.NoError(t, p.Attach())

	var required []events.Event
	var mu sync.Mutex
	require.NoError(t, bus.Subscribe(events.ActionRequired, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		required = append(required, e)
		return nil
	}))

	e := events.New(events.DataIngested, "watch", map[string]any{"text": "faint after 7 hours", "type": "wearable", "duration": float64(420)})
	e.Timestamp = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(context.Background(), e))

	assert.Equal(t, []string{"sensor_data", "analysis_result", "intervention"}, transport.names)
	require.Len(t, notifier.plans, 1)
	assert.Equal(t, "Stop now Advice: Sleep", notifier.plans[0].Message())
	require.Len(t, required, 1)

	require.Len(t, archive.records, 1)
	assert.Equal(t, "HIGH", archive.records[0].RiskLevel)
	assert.Equal(t, "watch", archive.records[0].Source)

	require.Len(t, mem.logs, 1)
	assert.Contains(t, mem.logs[0], "Timestamp: 2024-05-01T09:00:00Z")
	assert.Contains(t, mem.logs[0], "Input Source: watch")
	assert.Contains(t, mem.logs[0], "Risk Level: HIGH")
	assert.Contains(t, mem.logs[0], "Actions: Sleep")
}

func TestPipelineLowRiskDoesNotNotify(t *testing.T) {
	o := newScript(map[string]string{
		"triage": `{"needs_doctor":false,"needs_coach":false,"reasoning":"x"}`,
		"synth":  lowPlan,
	})
	c := newCouncil(t, o, &fakeScorer{det: risk.Result{Level: risk.Low}}, nil)
	transport := &recordingTransport{}
	notifier := &countingNotifier{}
	p := NewPipeline(c, events.NewBus(zap.NewNop()), zap.NewNop(), WithTransport(transport), WithNotifiers(notifier))

	require.NoError(t, p.Handle(context.Background(), events.New(events.DataIngested, "api", map[string]any{"text": "walked"})))
	assert.Empty(t, notifier.plans)
	assert.Equal(t, []string{"sensor_data", "analysis_result"}, transport.names)
}

func TestPipelineIgnoresEmptyText(t *testing.T) {
	o := newScript(nil)
	c := newCouncil(t, o, &fakeScorer{}, nil)
	p := NewPipeline(c, events.NewBus(zap.NewNop()), zap.NewNop())
	require.NoError(t, p.Handle(context.Background(), events.New(events.DataIngested, "api", nil)))
	assert.Zero(t, o.count("triage"))
}

func TestPipelineSkipsReplayedReadings(t *testing.T) {
	o := newScript(nil)
	c := newCouncil(t, o, &fakeScorer{}, nil)
	notifier := &countingNotifier{}
	p := NewPipeline(c, events.NewBus(zap.NewNop()), zap.NewNop(), WithNotifiers(notifier))
	require.NoError(t, p.Handle(context.Background(), events.New(events.DataIngested, "relay:replica-2",
		map[string]any{"text": "Severe chest pain"})))
	assert.Zero(t, o.count("triage"))
	assert.Empty(t, notifier.plans)
}
