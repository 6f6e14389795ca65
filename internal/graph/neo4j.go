package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

var relPattern = regexp.MustCompile(`[^A-Z_]`)

// Neo4jMirror replicates graph mutations into Neo4j with idempotent MERGE
// statements so the graph can be explored with Cypher.
type Neo4jMirror struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jMirror creates a Neo4j driver. An empty user disables auth.
func NewNeo4jMirror(uri, user, password string, logger *zap.Logger) (*Neo4jMirror, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jMirror{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (m *Neo4jMirror) Ping(ctx context.Context) error {
	return m.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (m *Neo4jMirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints.
func (m *Neo4jMirror) EnsureSchema(ctx context.Context) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert merges nodes then edges. A NEXT edge replaces any previous
// outgoing NEXT of its source.
func (m *Neo4jMirror) Upsert(ctx context.Context, nodes []Node, edges []Edge) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, n := range nodes {
		if err := m.mergeNode(ctx, session, n); err != nil {
			return err
		}
	}
	for _, e := range edges {
		if err := m.mergeEdge(ctx, session, e); err != nil {
			return err
		}
	}
	m.logger.Debug("mirrored graph mutation", zap.Int("nodes", len(nodes)), zap.Int("edges", len(edges)))
	return nil
}

// Remove detaches and deletes the nodes with the given ids.
func (m *Neo4jMirror) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if _, err := session.Run(ctx,
		`MATCH (n) WHERE (n:Memory OR n:Entity) AND n.id IN $ids DETACH DELETE n`,
		map[string]interface{}{"ids": ids}); err != nil {
		return fmt.Errorf("remove %d nodes: %w", len(ids), err)
	}
	m.logger.Debug("mirrored graph removal", zap.Int("nodes", len(ids)))
	return nil
}

func (m *Neo4jMirror) mergeNode(ctx context.Context, session neo4j.SessionWithContext, n Node) error {
	if n.Kind == KindMemory {
		ts := ""
		if n.Timestamp != nil {
			ts = n.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
		}
		_, err := session.Run(ctx,
			`MERGE (m:Memory {id: $id})
			 SET m.statement = $statement, m.scene = $scene,
			     m.outcome = $outcome, m.user_state = $state,
			     m.timestamp = CASE WHEN $ts = '' THEN null ELSE datetime($ts) END`,
			map[string]interface{}{
				"id":        n.ID,
				"statement": n.Statement,
				"scene":     n.Scene,
				"outcome":   n.Outcome,
				"state":     n.UserState,
				"ts":        ts,
			})
		if err != nil {
			return fmt.Errorf("merge memory %s: %w", n.ID, err)
		}
		return nil
	}

	_, err := session.Run(ctx,
		`MERGE (e:Entity {id: $id})
		 SET e.label = $label, e.class = $class`,
		map[string]interface{}{"id": n.ID, "label": n.Label, "class": n.Class})
	if err != nil {
		return fmt.Errorf("merge entity %s: %w", n.ID, err)
	}
	return nil
}

func (m *Neo4jMirror) mergeEdge(ctx context.Context, session neo4j.SessionWithContext, e Edge) error {
	rel := relPattern.ReplaceAllString(strings.ToUpper(e.Relation), "_")
	if rel == "" {
		rel = "RELATED_TO"
	}
	params := map[string]interface{}{"src": e.Source, "dst": e.Target, "delta": e.DeltaMinutes}

	if rel == RelNext {
		if _, err := session.Run(ctx,
			`MATCH (a {id: $src})-[r:NEXT]->() DELETE r`, params); err != nil {
			return fmt.Errorf("clear next %s: %w", e.Source, err)
		}
	}
	query := fmt.Sprintf(
		`MATCH (a {id: $src}), (b {id: $dst})
		 MERGE (a)-[r:%s]->(b)
		 SET r.delta_minutes = $delta`, rel)
	if _, err := session.Run(ctx, query, params); err != nil {
		return fmt.Errorf("merge %s %s->%s: %w", rel, e.Source, e.Target, err)
	}
	return nil
}
