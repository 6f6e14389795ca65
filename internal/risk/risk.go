// Package risk is the hybrid risk scorer: deterministic keyword and
// duration rules plus graph-derived temporal patterns, modulated by the
// user's risk modifiers and suppressible by time-boxed overrides.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/vitalcore/internal/graph"
	"github.com/nidhogg/vitalcore/internal/memory"
	"go.uber.org/zap"
)

// Level classifies a score.
type Level string

const (
	Low     Level = "LOW"
	Medium  Level = "MEDIUM"
	High    Level = "HIGH"
	Unknown Level = "UNKNOWN"
)

// Overridable risk types.
const (
	TypeSymptoms = "symptoms"
	TypeNeglect  = "neglect"
	TypeDuration = "duration"
)

// Modifier categories.
const (
	ModSedentary  = "sedentary"
	ModScreenTime = "screen_time"
)

const modifierFloor = 0.5

// ErrInvalidAmount is returned by AdjustTolerance for a non-positive amount.
var ErrInvalidAmount = errors.New("tolerance amount must be positive")

// Graph pattern base weights before modifiers.
const (
	grindWeight      = 0.5
	mixedMediaWeight = 0.3
)

var (
	highSeverity   = []string{"faint", "collapse", "chest pain", "severe", "agony", "unbearable", "crushing"}
	mediumSeverity = []string{"headache", "pain", "dizzy", "blur", "strain", "tired", "exhausted", "migraine", "throbbing"}
	neglect        = []string{"without water", "no water", "dehydrated", "skipped meal", "no food", "starving", "haven't eaten"}
)

// LevelOf maps a score onto the 0.4 / 0.7 thresholds.
func LevelOf(score float64) Level {
	switch {
	case score >= 0.7:
		return High
	case score >= 0.4:
		return Medium
	default:
		return Low
	}
}

// Result is a deterministic score.
type Result struct {
	Score     float64  `json:"score"`
	Level     Level    `json:"level"`
	Reasoning []string `json:"reasoning"`
}

// ComplexResult is the graph-derived score.
type ComplexResult struct {
	GraphScore    float64  `json:"graph_score"`
	GraphReasons  []string `json:"graph_reasons"`
	InvolvedNodes []string `json:"involved_nodes"`
}

// Override is an active suppression.
type Override struct {
	RiskType  string    `json:"risk_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Modifiers is the persistent per-category multiplier registry.
type Modifiers interface {
	RiskModifier(category string) float64
	SetRiskModifier(ctx context.Context, category string, value float64) error
}

// PatternSource is the knowledge graph as seen by the risk engine.
type PatternSource interface {
	Sync(ctx context.Context, entries []memory.Entry) int
	DetectGrindPattern(thresholdMinutes int) graph.PatternResult
	DetectMixedMediaPattern() graph.PatternResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithGrindThreshold sets the grind threshold in minutes.
func WithGrindThreshold(minutes int) Option {
	return func(e *Engine) {
		if minutes > 0 {
			e.grindThreshold = minutes
		}
	}
}

// Engine is the RiskEngine.
type Engine struct {
	mu             sync.Mutex
	overrides      map[string]time.Time
	tolMu          sync.Mutex // serializes read-modify-persist of modifiers
	modifiers      Modifiers
	patterns       PatternSource
	grindThreshold int
	now            func() time.Time
	logger         *zap.Logger
}

// NewEngine creates an engine. patterns may be nil, in which case the
// graph layer always scores zero.
func NewEngine(mods Modifiers, patterns PatternSource, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		overrides:      make(map[string]time.Time),
		modifiers:      mods,
		patterns:       patterns,
		grindThreshold: 60,
		now:            time.Now,
		logger:         logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetOverride suppresses riskType for the given number of minutes,
// replacing any existing override.
func (e *Engine) SetOverride(riskType string, durationMinutes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[riskType] = e.now().Add(time.Duration(durationMinutes) * time.Minute)
	e.logger.Info("risk override set",
		zap.String("risk_type", riskType), zap.Int("minutes", durationMinutes))
}

// IsOverridden reports whether riskType is currently suppressed. Expired
// overrides are evicted here.
func (e *Engine) IsOverridden(riskType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exp, ok := e.overrides[riskType]
	if !ok {
		return false
	}
	if e.now().Before(exp) {
		return true
	}
	delete(e.overrides, riskType)
	return false
}

// ActiveOverrides lists unexpired overrides sorted by risk type.
func (e *Engine) ActiveOverrides() []Override {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	out := make([]Override, 0, len(e.overrides))
	for t, exp := range e.overrides {
		if now.Before(exp) {
			out = append(out, Override{RiskType: t, ExpiresAt: exp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RiskType < out[j].RiskType })
	return out
}

// AdjustTolerance lowers the modifier for riskType by amount, never below
// 0.5, and persists it. It returns the new modifier.
func (e *Engine) AdjustTolerance(ctx context.Context, riskType string, amount float64) (float64, error) {
	if amount <= 0 || math.IsNaN(amount) {
		return e.modifier(riskType), fmt.Errorf("adjust tolerance %s by %v: %w", riskType, amount, ErrInvalidAmount)
	}
	e.tolMu.Lock()
	defer e.tolMu.Unlock()
	current := e.modifier(riskType)
	next := math.Max(modifierFloor, round2(current-amount))
	if err := e.modifiers.SetRiskModifier(ctx, riskType, next); err != nil {
		return current, fmt.Errorf("adjust tolerance %s: %w", riskType, err)
	}
	e.logger.Info("risk tolerance adjusted",
		zap.String("risk_type", riskType), zap.Float64("from", current), zap.Float64("to", next))
	return next, nil
}

func (e *Engine) modifier(category string) float64 {
	if e.modifiers == nil {
		return 1.0
	}
	return e.modifiers.RiskModifier(category)
}

// CalculateDeterministicRisk scores text and an activity duration.
func (e *Engine) CalculateDeterministicRisk(text string, durationMinutes int) Result {
	lower := strings.ToLower(text)
	var score float64
	reasons := []string{}

	if !e.IsOverridden(TypeSymptoms) {
		if w, ok := firstMatch(lower, highSeverity); ok {
			score += 0.5
			reasons = append(reasons, fmt.Sprintf("High severity keyword: '%s' (+0.5)", w))
		}
		if w, ok := firstMatch(lower, mediumSeverity); ok {
			score += 0.3
			reasons = append(reasons, fmt.Sprintf("Medium severity keyword: '%s' (+0.3)", w))
		}
	}

	if !e.IsOverridden(TypeNeglect) {
		if w, ok := firstMatch(lower, neglect); ok {
			score += 0.2
			reasons = append(reasons, fmt.Sprintf("Neglect keyword: '%s' (+0.2)", w))
		}
	}

	if durationMinutes > 0 && !e.IsOverridden(TypeDuration) {
		effective := float64(durationMinutes) * e.modifier(ModSedentary)
		switch {
		case effective > 360:
			score += 0.4
			reasons = append(reasons, fmt.Sprintf("Extreme duration (>6h): %.0fm (+0.4)", effective))
		case effective > 240:
			score += 0.3
			reasons = append(reasons, fmt.Sprintf("High duration (>4h): %.0fm (+0.3)", effective))
		case effective > 120 && score > 0:
			score += 0.1
			reasons = append(reasons, fmt.Sprintf("Moderate duration (>2h): %.0fm (+0.1)", effective))
		}
	}

	score = round2(math.Min(math.Max(score, 0), 1))
	return Result{Score: score, Level: LevelOf(score), Reasoning: reasons}
}

// AssessComplexRisks syncs memories into the graph and scores the grind
// and mixed-media patterns, each scaled by its modifier.
func (e *Engine) AssessComplexRisks(ctx context.Context, memories []memory.Entry) ComplexResult {
	res := ComplexResult{GraphReasons: []string{}, InvolvedNodes: []string{}}
	if e.patterns == nil {
		return res
	}
	if len(memories) > 0 {
		e.patterns.Sync(ctx, memories)
	}

	var score float64
	if g := e.patterns.DetectGrindPattern(e.grindThreshold); g.Detected {
		score += grindWeight * e.modifier(ModSedentary)
		res.GraphReasons = append(res.GraphReasons, g.Reason)
		res.InvolvedNodes = append(res.InvolvedNodes, g.InvolvedNodes...)
	}
	if m := e.patterns.DetectMixedMediaPattern(); m.Detected {
		score += mixedMediaWeight * e.modifier(ModScreenTime)
		res.GraphReasons = append(res.GraphReasons, m.Reason)
		res.InvolvedNodes = append(res.InvolvedNodes, m.InvolvedNodes...)
	}
	res.GraphScore = round2(math.Min(score, 1.0))
	return res
}

func firstMatch(text string, words []string) (string, bool) {
	for _, w := range words {
		if strings.Contains(text, w) {
			return w, true
		}
	}
	return "", false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
