package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/vitalcore/internal/memory"
	"go.uber.org/zap"
)

// ArchiveEpisodes stores raw entries that were folded into summaryID.
func (s *Store) ArchiveEpisodes(ctx context.Context, summaryID string, entries []memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		entities, err := json.Marshal(nonNil(e.Entities))
		if err != nil {
			return fmt.Errorf("marshal entities: %w", err)
		}
		batch.Queue(`
			INSERT INTO archived_episodes
				(id, occurred_at, scene, statement, entities, user_state, outcome, remarks, summary_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Timestamp, e.Scene, e.Statement, entities, e.UserState, e.Outcome, e.Remarks, summaryID)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("archive episode: %w", err)
		}
	}
	s.logger.Info("episodes archived", zap.String("summary", summaryID), zap.Int("count", len(entries)))
	return nil
}

// ArchivedEpisodes lists the raw entries behind a summary.
func (s *Store) ArchivedEpisodes(ctx context.Context, summaryID string) ([]memory.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, occurred_at, scene, statement, entities, user_state, outcome, remarks
		FROM archived_episodes
		WHERE summary_id = $1
		ORDER BY occurred_at ASC`, summaryID)
	if err != nil {
		return nil, fmt.Errorf("archived episodes: %w", err)
	}
	defer rows.Close()

	var out []memory.Entry
	for rows.Next() {
		var e memory.Entry
		var entities []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Scene, &e.Statement, &entities,
			&e.UserState, &e.Outcome, &e.Remarks); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		json.Unmarshal(entities, &e.Entities)
		out = append(out, e)
	}
	return out, rows.Err()
}
