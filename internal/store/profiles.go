package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// LoadProfile returns the raw JSON document of a profile.
func (s *Store) LoadProfile(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM profiles WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}
	return data, nil
}

// SaveProfile upserts a profile document.
func (s *Store) SaveProfile(ctx context.Context, id string, data []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", id, err)
	}
	return nil
}
