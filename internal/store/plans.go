package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlanRecord is one archived council verdict.
type PlanRecord struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	InputText       string    `json:"input_text"`
	Summary         string    `json:"summary"`
	RiskLevel       string    `json:"risk_level"`
	RiskType        string    `json:"risk_type"`
	Actions         []string  `json:"actions"`
	GraphHighlights []string  `json:"graph_highlights"`
	Diagnostics     []string  `json:"diagnostics"`
	CreatedAt       time.Time `json:"created_at"`
}

// ArchivePlan inserts a plan and returns its ID.
func (s *Store) ArchivePlan(ctx context.Context, p *PlanRecord) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	actions, err := json.Marshal(nonNil(p.Actions))
	if err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	highlights, err := json.Marshal(nonNil(p.GraphHighlights))
	if err != nil {
		return "", fmt.Errorf("marshal highlights: %w", err)
	}
	diags, err := json.Marshal(nonNil(p.Diagnostics))
	if err != nil {
		return "", fmt.Errorf("marshal diagnostics: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO action_plans
			(id, source, input_text, summary, risk_level, risk_type, actions, graph_highlights, diagnostics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Source, p.InputText, p.Summary, p.RiskLevel, p.RiskType,
		actions, highlights, diags, p.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("archive plan: %w", err)
	}
	return p.ID, nil
}

// RecentPlans returns the newest plans, optionally filtered by risk level.
func (s *Store) RecentPlans(ctx context.Context, level string, limit int) ([]*PlanRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, source, input_text, summary, risk_level, risk_type,
		       actions, graph_highlights, diagnostics, created_at
		FROM action_plans
		WHERE $1 = '' OR risk_level = $1
		ORDER BY created_at DESC
		LIMIT $2`, level, limit)
	if err != nil {
		return nil, fmt.Errorf("recent plans: %w", err)
	}
	defer rows.Close()

	var out []*PlanRecord
	for rows.Next() {
		var p PlanRecord
		var actions, highlights, diags []byte
		if err := rows.Scan(&p.ID, &p.Source, &p.InputText, &p.Summary, &p.RiskLevel, &p.RiskType,
			&actions, &highlights, &diags, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		json.Unmarshal(actions, &p.Actions)
		json.Unmarshal(highlights, &p.GraphHighlights)
		json.Unmarshal(diags, &p.Diagnostics)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
