// Package embedding turns memory text into vectors for semantic recall.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api", "local", "gemini" or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the provider named by cfg.Provider. Unknown or empty names
// fall back to the offline hashing provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "api":
		return NewAPIProvider(cfg), nil
	case "local":
		return NewLocalProvider(cfg), nil
	case "gemini":
		return NewGenAIProvider(ctx, cfg)
	case "", "hash":
		return NewHashProvider(cfg.Dimension), nil
	default:
		logger.Warn("unknown embedding provider, using hashing fallback", zap.String("provider", cfg.Provider))
		return NewHashProvider(cfg.Dimension), nil
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, url, apiKey string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}

// dimCache remembers the vector size of the first successful result.
type dimCache struct {
	once sync.Once
	dim  int
}

func (c *dimCache) observe(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		c.once.Do(func() { c.dim = len(vectors[0]) })
	}
}

func (c *dimCache) get(fallback int) int {
	if c.dim > 0 {
		return c.dim
	}
	return fallback
}
