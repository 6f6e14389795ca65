package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nidhogg/vitalcore/internal/store"
)

// FileBackend keeps the profile in a JSON file.
type FileBackend struct {
	Path string
}

// Load reads the profile file.
func (f FileBackend) Load(_ context.Context) (*Profile, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// Save writes the profile file.
func (f FileBackend) Save(_ context.Context, p *Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	return os.WriteFile(f.Path, data, 0o644)
}

// PGBackend stores the profile as a JSONB document in PostgreSQL.
type PGBackend struct {
	Store *store.Store
	ID    string
}

// Load fetches the profile row.
func (b PGBackend) Load(ctx context.Context) (*Profile, error) {
	data, err := b.Store.LoadProfile(ctx, b.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// Save upserts the profile row.
func (b PGBackend) Save(ctx context.Context, p *Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return b.Store.SaveProfile(ctx, b.ID, data)
}
