package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/vitalcore/internal/classify"
	"github.com/nidhogg/vitalcore/internal/memory"
	"go.uber.org/zap"
)

const (
	defaultStepMinutes = 15
	hardBreakMinutes   = 120
	endOfSession       = 180
)

// Mirror receives every mutation, e.g. a Neo4j replica.
type Mirror interface {
	Upsert(ctx context.Context, nodes []Node, edges []Edge) error
	// Remove deletes nodes and every relationship touching them.
	Remove(ctx context.Context, ids []string) error
}

// Option configures a Service.
type Option func(*Service)

// WithEnricher enables Oracle-backed enrichment in AddMemoryNode.
func WithEnricher(e Enricher) Option { return func(s *Service) { s.enricher = e } }

// WithMirror replicates mutations to m.
func WithMirror(m Mirror) Option { return func(s *Service) { s.mirror = m } }

// WithBreakGap sets the largest gap, in minutes, between two memories that
// still counts as one continuous session.
func WithBreakGap(minutes int) Option {
	return func(s *Service) {
		if minutes > 0 {
			s.breakGap = float64(minutes)
		}
	}
}

// Service is the knowledge graph. Every mutation holds the write lock for
// the whole read-modify-write-persist sequence.
type Service struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	edges    []Edge
	path     string
	breakGap float64

	classifier classify.Classifier
	enricher   Enricher
	mirror     Mirror
	logger     *zap.Logger
}

// NewService loads the graph from path. A missing or unreadable file
// yields an empty graph. An empty path keeps the graph in memory only.
func NewService(path string, c classify.Classifier, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		nodes:      make(map[string]*Node),
		path:       path,
		breakGap:   defaultStepMinutes,
		classifier: c,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.load(); err != nil {
		logger.Warn("graph load failed, starting empty", zap.String("path", path), zap.Error(err))
		s.nodes = make(map[string]*Node)
		s.edges = nil
	}
	return s
}

func (s *Service) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode graph: %w", err)
	}
	for i := range doc.Nodes {
		n := doc.Nodes[i]
		s.nodes[n.ID] = &n
	}
	for _, e := range doc.Links {
		if s.nodes[e.Source] != nil && s.nodes[e.Target] != nil {
			s.edges = append(s.edges, e)
		}
	}
	s.logger.Info("graph loaded", zap.Int("nodes", len(s.nodes)), zap.Int("edges", len(s.edges)))
	return nil
}

// persist must be called with mu held.
func (s *Service) persist() {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(s.document(), "", "  ")
	if err != nil {
		s.logger.Warn("encode graph", zap.Error(err))
		return
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Warn("create graph dir", zap.Error(err))
			return
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("write graph", zap.String("path", tmp), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Warn("replace graph file", zap.String("path", s.path), zap.Error(err))
	}
}

func (s *Service) document() Document {
	doc := Document{Directed: true, Graph: map[string]any{}, Nodes: make([]Node, 0, len(s.nodes))}
	for _, n := range s.nodes {
		doc.Nodes = append(doc.Nodes, *n)
	}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	doc.Links = append([]Edge{}, s.edges...)
	return doc
}

// Export returns the node-link document.
func (s *Service) Export() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document()
}

// Counts returns the number of nodes and edges.
func (s *Service) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// AddMemoryNode inserts entry as a memory node, links its entities, asks
// the enricher for extra structure and persists the graph.
func (s *Service) AddMemoryNode(ctx context.Context, entry memory.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	var ex *Extraction
	if s.enricher != nil && entry.Statement != "" {
		var err error
		ex, err = s.enricher.Enrich(ctx, entry.Statement)
		if err != nil {
			s.logger.Warn("graph enrichment skipped", zap.String("memory", entry.ID), zap.Error(err))
			ex = nil
		}
	}

	s.mu.Lock()
	nodes, edges := s.insertMemory(entry)
	if ex != nil {
		n, e := s.applyExtraction(entry.ID, ex)
		nodes = append(nodes, n...)
		edges = append(edges, e...)
	}
	s.persist()
	s.mu.Unlock()

	s.replicate(ctx, nodes, edges)
	return nil
}

// Sync adds every entry not yet in the graph, without enrichment.
func (s *Service) Sync(ctx context.Context, entries []memory.Entry) int {
	s.mu.Lock()
	var nodes []Node
	var edges []Edge
	added := 0
	for _, e := range entries {
		if e.ID != "" && s.nodes[e.ID] != nil {
			continue
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		n, ed := s.insertMemory(e)
		nodes = append(nodes, n...)
		edges = append(edges, ed...)
		added++
	}
	if added > 0 {
		s.persist()
	}
	s.mu.Unlock()

	s.replicate(ctx, nodes, edges)
	return added
}

func (s *Service) replicate(ctx context.Context, nodes []Node, edges []Edge) {
	if s.mirror == nil || len(nodes)+len(edges) == 0 {
		return
	}
	if err := s.mirror.Upsert(ctx, nodes, edges); err != nil {
		s.logger.Warn("graph mirror failed", zap.Error(err))
	}
}

// insertMemory must be called with mu held. It returns the touched nodes
// and edges for replication.
func (s *Service) insertMemory(entry memory.Entry) ([]Node, []Edge) {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	n := &Node{
		ID:        entry.ID,
		Kind:      KindMemory,
		Timestamp: &ts,
		Statement: entry.Statement,
		Scene:     entry.Scene,
		Outcome:   entry.Outcome,
		UserState: entry.UserState,
	}
	var touchedEdges []Edge
	if old := s.nodes[entry.ID]; old != nil && old.Kind == KindMemory {
		if e, ok := s.unlinkTemporal(entry.ID); ok {
			touchedEdges = append(touchedEdges, e)
		}
	}
	s.nodes[entry.ID] = n
	touchedNodes := []Node{*n}

	for _, label := range entry.Entities {
		if strings.TrimSpace(label) == "" {
			continue
		}
		ent := s.ensureEntity(label, "")
		touchedNodes = append(touchedNodes, *ent)
		if e, ok := s.addEdge(Edge{Source: entry.ID, Target: ent.ID, Relation: RelMentions}); ok {
			touchedEdges = append(touchedEdges, e)
		}
	}

	touchedEdges = append(touchedEdges, s.linkTemporal(n)...)
	return touchedNodes, touchedEdges
}

// chronoBefore orders memories by timestamp, then by ID.
func chronoBefore(a, b *Node) bool {
	ta, tb := a.time(), b.time()
	if ta.Equal(tb) {
		return a.ID < b.ID
	}
	return ta.Before(tb)
}

// linkTemporal splices n into the NEXT chain between its chronological
// neighbours, keeping at most one outgoing NEXT edge per memory.
func (s *Service) linkTemporal(n *Node) []Edge {
	var prev, next *Node
	for _, m := range s.nodes {
		if m.Kind != KindMemory || m.ID == n.ID {
			continue
		}
		if chronoBefore(m, n) {
			if prev == nil || chronoBefore(prev, m) {
				prev = m
			}
		} else if next == nil || chronoBefore(m, next) {
			next = m
		}
	}

	var out []Edge
	if prev != nil {
		s.removeEdges(func(e Edge) bool { return e.Relation == RelNext && e.Source == prev.ID })
		e := Edge{Source: prev.ID, Target: n.ID, Relation: RelNext, DeltaMinutes: minutesBetween(prev, n)}
		s.edges = append(s.edges, e)
		out = append(out, e)
	}
	if next != nil {
		e := Edge{Source: n.ID, Target: next.ID, Relation: RelNext, DeltaMinutes: minutesBetween(n, next)}
		s.edges = append(s.edges, e)
		out = append(out, e)
	}
	return out
}

// unlinkTemporal removes id from the NEXT chain, reconnecting its
// neighbours. It returns the reconnecting edge, if any.
func (s *Service) unlinkTemporal(id string) (Edge, bool) {
	var prev, next string
	for _, e := range s.edges {
		if e.Relation != RelNext {
			continue
		}
		if e.Target == id {
			prev = e.Source
		}
		if e.Source == id {
			next = e.Target
		}
	}
	s.removeEdges(func(e Edge) bool {
		return e.Relation == RelNext && (e.Source == id || e.Target == id)
	})
	if prev == "" || next == "" {
		return Edge{}, false
	}
	e := Edge{
		Source: prev, Target: next, Relation: RelNext,
		DeltaMinutes: minutesBetween(s.nodes[prev], s.nodes[next]),
	}
	s.edges = append(s.edges, e)
	return e, true
}

func (s *Service) removeEdges(drop func(Edge) bool) {
	kept := s.edges[:0]
	for _, e := range s.edges {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	s.edges = kept
}

func (s *Service) addEdge(e Edge) (Edge, bool) {
	for _, x := range s.edges {
		if x.Source == e.Source && x.Target == e.Target && x.Relation == e.Relation {
			return x, false
		}
	}
	s.edges = append(s.edges, e)
	return e, true
}

func (s *Service) ensureEntity(label, class string) *Node {
	id := EntityID(label)
	if n, ok := s.nodes[id]; ok {
		if n.Class == "" && class != "" {
			n.Class = class
		}
		return n
	}
	n := &Node{ID: id, Kind: KindEntity, Label: strings.TrimSpace(label), Class: class}
	s.nodes[id] = n
	return n
}

func (s *Service) applyExtraction(memoryID string, ex *Extraction) ([]Node, []Edge) {
	var nodes []Node
	var edges []Edge
	ids := make(map[string]string, len(ex.Nodes))
	for _, en := range ex.Nodes {
		label := en.Label
		if label == "" {
			label = en.ID
		}
		if strings.TrimSpace(label) == "" {
			continue
		}
		n := s.ensureEntity(label, en.Type)
		ids[en.ID] = n.ID
		nodes = append(nodes, *n)
		if e, ok := s.addEdge(Edge{Source: memoryID, Target: n.ID, Relation: RelMentions}); ok {
			edges = append(edges, e)
		}
	}
	for _, ee := range ex.Edges {
		src, ok1 := ids[ee.Source]
		dst, ok2 := ids[ee.Target]
		if !ok1 || !ok2 || src == dst {
			continue
		}
		rel := strings.ToUpper(strings.TrimSpace(ee.Relation))
		if rel == "" {
			rel = "RELATED_TO"
		}
		if e, ok := s.addEdge(Edge{Source: src, Target: dst, Relation: rel}); ok {
			edges = append(edges, e)
		}
	}
	return nodes, edges
}

// RemoveMemories drops memory nodes and their edges, keeping the NEXT
// chain intact. Entities left without edges are removed too. The mirror
// receives the deletions and the reconnected NEXT edges.
func (s *Service) RemoveMemories(ctx context.Context, ids []string) {
	s.mu.Lock()
	var removed []string
	relinked := map[string]bool{}
	for _, id := range ids {
		n := s.nodes[id]
		if n == nil || n.Kind != KindMemory {
			continue
		}
		if e, ok := s.unlinkTemporal(id); ok {
			relinked[e.Source] = true
		}
		s.removeEdges(func(e Edge) bool { return e.Source == id || e.Target == id })
		delete(s.nodes, id)
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		s.mu.Unlock()
		return
	}
	linked := map[string]bool{}
	for _, e := range s.edges {
		linked[e.Source], linked[e.Target] = true, true
	}
	for id, n := range s.nodes {
		if n.Kind == KindEntity && !linked[id] {
			delete(s.nodes, id)
			removed = append(removed, id)
		}
	}
	// A later removal can splice out an earlier relink, so only the
	// surviving NEXT edges are replicated.
	var edges []Edge
	for _, e := range s.edges {
		if e.Relation == RelNext && relinked[e.Source] && s.nodes[e.Source] != nil {
			edges = append(edges, e)
		}
	}
	s.persist()
	s.mu.Unlock()

	if s.mirror == nil {
		return
	}
	if err := s.mirror.Remove(ctx, removed); err != nil {
		s.logger.Warn("graph mirror removal failed", zap.Error(err))
		return
	}
	s.replicate(ctx, nil, edges)
}

func minutesBetween(a, b *Node) float64 {
	if a == nil || b == nil {
		return 0
	}
	return b.time().Sub(a.time()).Minutes()
}
