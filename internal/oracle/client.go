package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/vitalcore/internal/provider"
	"go.uber.org/zap"
)

// Client implements Oracle on top of the provider router. Each Client is
// bound to a role so personas can be routed to different backends.
type Client struct {
	router  *provider.Router
	role    string
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates an Oracle client for the default role.
func NewClient(router *provider.Router, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		router:  router,
		role:    "default",
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// WithRole returns a copy of c that routes through role's provider binding.
func (c *Client) WithRole(role string) *Client {
	cp := *c
	cp.role = role
	return &cp
}

// ForRole implements RoleRouter.
func (c *Client) ForRole(role string) Oracle {
	return c.WithRole(role)
}

// GenerateStructured asks for a JSON object matching schema.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, schema Schema, background string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	content := fmt.Sprintf("%s\n\nTask: %s\n\nReturn only a JSON object matching this schema:\n%s",
		background, prompt, schema.String())
	resp, err := c.router.Route(ctx, c.role, &provider.ChatRequest{
		Model:    c.model,
		Messages: []provider.Message{{Role: "user", Content: content}},
		JSONMode: true,
	})
	if err != nil {
		c.logger.Warn("structured generation failed",
			zap.String("role", c.role), zap.String("schema", schema.Name), zap.Error(err))
		return "", fmt.Errorf("generate %s: %w", schema.Name, err)
	}
	return resp.Content, nil
}

// GenerateChat runs a plain chat completion.
func (c *Client) GenerateChat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	msgs := make([]provider.Message, len(messages))
	for i, m := range messages {
		msgs[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	resp, err := c.router.Route(ctx, c.role, &provider.ChatRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		c.logger.Warn("chat generation failed", zap.String("role", c.role), zap.Error(err))
		return "", fmt.Errorf("generate chat: %w", err)
	}
	return resp.Content, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
