package graph

import (
	"context"
	"fmt"

	"github.com/nidhogg/vitalcore/internal/oracle"
	"go.uber.org/zap"
)

// Extraction is the enrichment result for one statement.
type Extraction struct {
	Nodes []ExtractedNode `json:"nodes"`
	Edges []ExtractedEdge `json:"edges"`
}

// ExtractedNode is an ontology-typed entity.
type ExtractedNode struct {
	ID    string `json:"id"`
	Type  string `json:"type" desc:"Activity, Symptom, Project, Entertainment, Entity or State"`
	Label string `json:"label"`
}

// ExtractedEdge links two extracted nodes.
type ExtractedEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation" desc:"CAUSES, RELATED_TO, PART_OF, FOLLOWED_BY or INTERRUPTS"`
}

// Enricher turns a statement into additional entities and relations.
type Enricher interface {
	Enrich(ctx context.Context, statement string) (*Extraction, error)
}

// OracleEnricher asks the Oracle to extract a small ontology graph.
type OracleEnricher struct {
	oracle oracle.Oracle
	prompt string
	logger *zap.Logger
}

// NewOracleEnricher creates an enricher using the given system prompt.
func NewOracleEnricher(o oracle.Oracle, prompt string, logger *zap.Logger) *OracleEnricher {
	return &OracleEnricher{oracle: o, prompt: prompt, logger: logger}
}

// Enrich extracts nodes and edges from statement.
func (e *OracleEnricher) Enrich(ctx context.Context, statement string) (*Extraction, error) {
	ex, err := oracle.Generate[Extraction](ctx, e.oracle,
		fmt.Sprintf("Extract the knowledge graph from this memory: %q", statement), e.prompt)
	if err != nil {
		return nil, fmt.Errorf("enrich statement: %w", err)
	}
	e.logger.Debug("enriched statement",
		zap.Int("nodes", len(ex.Nodes)), zap.Int("edges", len(ex.Edges)))
	return &ex, nil
}
