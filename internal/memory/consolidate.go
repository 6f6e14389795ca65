package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"go.uber.org/zap"
)

// SummaryPrefix starts the statement of every consolidated entry.
const SummaryPrefix = "Summary of previous session"

// ErrNothingToConsolidate is returned when fewer than two raw entries exist.
var ErrNothingToConsolidate = errors.New("nothing to consolidate")

// Consolidate folds every active entry into one summary entry, archives
// the raw entries and prunes them from the index and the graph.
func (s *Store) Consolidate(ctx context.Context) (*Entry, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) < 2 {
		return nil, ErrNothingToConsolidate
	}

	var logs strings.Builder
	for _, e := range entries {
		logs.WriteString("- " + e.String() + "\n")
	}
	text, err := s.oracle.GenerateChat(ctx, []oracle.Message{
		{Role: "system", Content: s.prompts.Consolidation},
		{Role: "user", Content: logs.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("consolidate memories: %w", err)
	}

	newest := entries[len(entries)-1]
	summary := Entry{
		ID:        uuid.New().String(),
		Timestamp: newest.Timestamp,
		Scene:     "Consolidated memory",
		Statement: SummaryPrefix + ": " + strings.TrimSpace(text),
		Entities:  unionEntities(entries),
		UserState: newest.UserState,
		Outcome:   fmt.Sprintf("Consolidated %d episodes", len(entries)),
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	// The summary must be recallable before any raw entry is dropped.
	if err := s.indexEntry(ctx, summary); err != nil {
		return nil, fmt.Errorf("index summary: %w", err)
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveEpisodes(ctx, summary.ID, entries); err != nil {
			if derr := s.index.Delete(ctx, []string{summary.ID}); derr != nil {
				s.logger.Warn("withdraw summary failed", zap.String("summary", summary.ID), zap.Error(derr))
			}
			return nil, fmt.Errorf("archive raw episodes: %w", err)
		}
	}
	if err := s.index.Delete(ctx, ids); err != nil {
		return nil, fmt.Errorf("prune raw episodes: %w", err)
	}
	if s.pruner != nil {
		s.pruner.RemoveMemories(ctx, ids)
	}
	s.sinkEntry(ctx, summary)

	s.logger.Info("memories consolidated",
		zap.Int("episodes", len(entries)), zap.String("summary", summary.ID))
	return &summary, nil
}

func unionEntities(entries []Entry) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range entries {
		for _, ent := range e.Entities {
			k := strings.ToLower(ent)
			if !seen[k] {
				seen[k] = true
				out = append(out, ent)
			}
		}
	}
	return out
}
