package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGenAIModel = "text-embedding-004"

// GenAIProvider embeds text with the Gemini API.
type GenAIProvider struct {
	client    *genai.Client
	model     string
	dimension int
	cache     dimCache
}

// NewGenAIProvider creates a Gemini embedding client.
func NewGenAIProvider(ctx context.Context, cfg Config) (*GenAIProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGenAIModel
	}
	return &GenAIProvider{client: client, model: model, dimension: cfg.Dimension}, nil
}

// Embed embeds all texts in one request.
func (p *GenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: genai embed: %w", err)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	p.cache.observe(out)
	return out, nil
}

// Dimension returns the observed vector size, or the configured default.
func (p *GenAIProvider) Dimension() int {
	return p.cache.get(p.dimension)
}
