package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/vitalcore/internal/embedding"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"go.uber.org/zap"
)

var errNotEmbedded = errors.New("memory not embedded")

const (
	payloadEntry   = "entry"
	payloadContent = "content"
	maxStatement   = 280
)

// Sink receives every stored entry, e.g. the knowledge graph.
type Sink interface {
	AddMemoryNode(ctx context.Context, entry Entry) error
}

// Pruner forgets consolidated entries downstream of the index.
type Pruner interface {
	RemoveMemories(ctx context.Context, ids []string)
}

// Archiver keeps raw entries once they are consolidated.
type Archiver interface {
	ArchiveEpisodes(ctx context.Context, summaryID string, entries []Entry) error
}

// dimensions is what the Oracle extracts from a raw log.
type dimensions struct {
	Scene     string   `json:"scene" desc:"Contextual scene, e.g. 'Late night coding'"`
	Statement string   `json:"statement" desc:"The core event or signal detected"`
	Entities  []string `json:"entities" desc:"Key entities, e.g. ['Insomnia', 'VS Code']"`
	UserState string   `json:"user_state" desc:"Inferred emotional or physical state"`
	Outcome   string   `json:"outcome" desc:"The action taken or advice given"`
	Remarks   string   `json:"remarks,omitempty"`
}

// Prompts are the Oracle instructions used by the store.
type Prompts struct {
	Extraction    string
	Consolidation string
}

// Option configures a Store.
type Option func(*Store)

// WithSink forwards stored entries to s.
func WithSink(s Sink) Option { return func(st *Store) { st.sink = s } }

// WithPruner removes consolidated entries from p.
func WithPruner(p Pruner) Option { return func(st *Store) { st.pruner = p } }

// WithArchiver keeps raw entries in a before pruning.
func WithArchiver(a Archiver) Option { return func(st *Store) { st.archiver = a } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(st *Store) { st.now = now } }

// Store is the Memory Store.
type Store struct {
	oracle   oracle.Oracle
	prompts  Prompts
	embedder embedding.Provider
	index    Index
	sink     Sink
	pruner   Pruner
	archiver Archiver
	now      func() time.Time
	logger   *zap.Logger
}

// NewStore wires the Memory Store.
func NewStore(o oracle.Oracle, prompts Prompts, embedder embedding.Provider, index Index, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		oracle:   o,
		prompts:  prompts,
		embedder: embedder,
		index:    index,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add distils rawLog into an Entry, indexes it and hands it to the sink.
// Extraction failures fall back to a statement-only entry.
func (s *Store) Add(ctx context.Context, rawLog string) (Entry, error) {
	entry := s.extract(ctx, rawLog)
	if err := s.Put(ctx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// Put stores an already structured entry. An entry that cannot be
// embedded is still handed to the graph but is not recallable.
func (s *Store) Put(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	if err := s.indexEntry(ctx, entry); err != nil {
		if !errors.Is(err, errNotEmbedded) {
			return err
		}
		s.logger.Warn("memory not indexed", zap.String("id", entry.ID), zap.Error(err))
	}
	s.sinkEntry(ctx, entry)
	s.logger.Info("memory stored", zap.String("id", entry.ID), zap.String("statement", entry.Statement))
	return nil
}

// indexEntry embeds entry and upserts it into the index.
func (s *Store) indexEntry(ctx context.Context, entry Entry) error {
	vectors, err := s.embedder.Embed(ctx, []string{entry.IndexText()})
	if err != nil {
		return fmt.Errorf("%w: %v", errNotEmbedded, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return fmt.Errorf("%w: empty vector", errNotEmbedded)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	payload := map[string]string{
		payloadEntry:   string(data),
		payloadContent: entry.IndexText(),
	}
	if err := s.index.Upsert(ctx, entry.ID, vectors[0], payload); err != nil {
		return fmt.Errorf("index memory %s: %w", entry.ID, err)
	}
	return nil
}

func (s *Store) sinkEntry(ctx context.Context, entry Entry) {
	if s.sink == nil {
		return
	}
	if err := s.sink.AddMemoryNode(ctx, entry); err != nil {
		s.logger.Warn("graph sink failed", zap.String("id", entry.ID), zap.Error(err))
	}
}

func (s *Store) extract(ctx context.Context, rawLog string) Entry {
	entry := Entry{ID: uuid.New().String(), Timestamp: s.now()}
	d, err := oracle.Generate[dimensions](ctx, s.oracle,
		"Extract the memory dimensions of this log.",
		s.prompts.Extraction+"\n\nLog:\n"+rawLog)
	if err != nil || strings.TrimSpace(d.Statement) == "" {
		s.logger.Warn("memory extraction failed, storing raw statement", zap.Error(err))
		entry.Statement = truncate(strings.TrimSpace(rawLog), maxStatement)
		entry.Entities = []string{}
		return entry
	}
	entry.Scene = d.Scene
	entry.Statement = d.Statement
	entry.Entities = d.Entities
	entry.UserState = d.UserState
	entry.Outcome = d.Outcome
	entry.Remarks = d.Remarks
	return entry
}

// Recall returns the k entries most similar to query.
func (s *Store) Recall(ctx context.Context, query string, k int) ([]Entry, error) {
	if k <= 0 {
		k = 3
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	hits, err := s.index.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return decodeHits(hits, s.logger), nil
}

// All returns every active entry, oldest first.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	hits, err := s.index.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	entries := decodeHits(hits, s.logger)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries, nil
}

func decodeHits(hits []Hit, logger *zap.Logger) []Entry {
	out := make([]Entry, 0, len(hits))
	for _, h := range hits {
		var e Entry
		if err := json.Unmarshal([]byte(h.Payload[payloadEntry]), &e); err != nil {
			logger.Debug("skip undecodable memory", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
