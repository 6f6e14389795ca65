// Package council runs the deliberation workflow: triage, the two expert
// personas and the synthesizing chair, over one typed state.
package council

import (
	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/risk"
	"github.com/nidhogg/vitalcore/internal/workflow"
)

// TriageDecision routes a run to the experts.
type TriageDecision struct {
	NeedsDoctor bool   `json:"needs_doctor" desc:"True if medical or physical symptoms are detected"`
	NeedsCoach  bool   `json:"needs_coach" desc:"True if lifestyle or habit issues are detected"`
	Reasoning   string `json:"reasoning" desc:"Brief explanation of the routing decision"`
}

// Assessment is one expert's verdict.
type Assessment struct {
	RiskScore        float64  `json:"risk_score" desc:"Risk level from 0.0 (safe) to 1.0 (critical)"`
	Assessment       string   `json:"assessment" desc:"Detailed analysis of the user's condition"`
	IdentifiedIssues []string `json:"identified_issues" desc:"Specific issues found, e.g. 'Sleep Deprivation'"`
}

// ActionPlan is the terminal artifact of a run.
type ActionPlan struct {
	Summary         string     `json:"summary" desc:"Executive summary of the user's health state"`
	RiskLevel       risk.Level `json:"risk_level" desc:"Overall risk level: LOW, MEDIUM or HIGH"`
	RiskType        string     `json:"risk_type" desc:"Primary risk category, e.g. sedentary, posture, stress, fatigue"`
	Actions         []string   `json:"actions" desc:"Concrete, actionable steps for the user"`
	GraphHighlights []string   `json:"graph_highlights" desc:"Memory IDs that contributed to the assessment"`
	Diagnostics     []string   `json:"diagnostics,omitempty"`
}

// Message renders the plan as a short notification.
func (p ActionPlan) Message() string {
	advice := "Take a break."
	if len(p.Actions) > 0 {
		advice = p.Actions[0]
	}
	return p.Summary + " Advice: " + advice
}

// State is shared by every node of one run.
type State struct {
	InputData     string
	Source        string
	Duration      int
	PastMemories  []memory.Entry
	Triage        *TriageDecision
	Doctor        *Assessment
	Coach         *Assessment
	Deterministic *risk.Result
	Graph         *risk.ComplexResult
	Plan          *ActionPlan
	Log           []string
	Diagnostics   []string
}

var stateSchema = workflow.MustSchema(
	workflow.Overwrite("InputData", func(s *State) *string { return &s.InputData }),
	workflow.Overwrite("Source", func(s *State) *string { return &s.Source }),
	workflow.Overwrite("Duration", func(s *State) *int { return &s.Duration }),
	workflow.Overwrite("PastMemories", func(s *State) *[]memory.Entry { return &s.PastMemories }),
	workflow.Overwrite("Triage", func(s *State) **TriageDecision { return &s.Triage }),
	workflow.Overwrite("Doctor", func(s *State) **Assessment { return &s.Doctor }),
	workflow.Overwrite("Coach", func(s *State) **Assessment { return &s.Coach }),
	workflow.Overwrite("Deterministic", func(s *State) **risk.Result { return &s.Deterministic }),
	workflow.Overwrite("Graph", func(s *State) **risk.ComplexResult { return &s.Graph }),
	workflow.Overwrite("Plan", func(s *State) **ActionPlan { return &s.Plan }),
	workflow.Append("Log", func(s *State) *[]string { return &s.Log }),
	workflow.Append("Diagnostics", func(s *State) *[]string { return &s.Diagnostics }),
)
