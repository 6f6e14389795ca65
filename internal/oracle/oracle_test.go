package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/vitalcore/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type verdict struct {
	NeedsDoctor bool     `json:"needs_doctor" desc:"physical symptoms present"`
	Reasoning   string   `json:"reasoning"`
	Issues      []string `json:"issues,omitempty"`
	Score       float64  `json:"score"`
}

func TestParseJSONStripsFences(t *testing.T) {
	got, err := ParseJSON[verdict]("Sure!\n```json\n{\"needs_doctor\": true, \"reasoning\": \"pain\"}\n```")
	require.NoError(t, err)
	assert.True(t, got.NeedsDoctor)
	assert.Equal(t, "pain", got.Reasoning)
}

func TestParseJSONErrors(t *testing.T) {
	_, err := ParseJSON[verdict]("no json here")
	assert.Error(t, err)

	_, err = ParseJSON[verdict]("{\"needs_doctor\": ")
	assert.Error(t, err)
}

func TestSchemaFor(t *testing.T) {
	s := SchemaFor[verdict]()
	assert.Equal(t, "verdict", s.Name)
	assert.Equal(t, "boolean", s.Properties["needs_doctor"].Type)
	assert.Equal(t, "physical symptoms present", s.Properties["needs_doctor"].Description)
	assert.Equal(t, "number", s.Properties["score"].Type)
	require.NotNil(t, s.Properties["issues"].Items)
	assert.Equal(t, "string", s.Properties["issues"].Items.Type)
	assert.ElementsMatch(t, []string{"needs_doctor", "reasoning", "score"}, s.Required)
}

type echoProvider struct {
	reply string
	err   error
	last  *provider.ChatRequest
}

func (e *echoProvider) ID() string   { return "echo" }
func (e *echoProvider) Name() string { return "echo" }
func (e *echoProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	e.last = req
	if e.err != nil {
		return nil, e.err
	}
	return &provider.ChatResponse{Content: e.reply}, nil
}
func (e *echoProvider) HealthCheck(context.Context) error { return nil }

func TestClientGenerate(t *testing.T) {
	p := &echoProvider{reply: `{"needs_doctor": false, "reasoning": "fine", "score": 0.1}`}
	router := provider.NewRouter(zap.NewNop())
	router.Register(p)
	c := NewClient(router, "m", time.Second, zap.NewNop()).WithRole("triage")

	got, err := Generate[verdict](context.Background(), c, "decide", "Input: tired")
	require.NoError(t, err)
	assert.Equal(t, "fine", got.Reasoning)
	require.NotNil(t, p.last)
	assert.True(t, p.last.JSONMode)
	assert.True(t, strings.Contains(p.last.Messages[0].Content, "Input: tired"))
	assert.True(t, strings.Contains(p.last.Messages[0].Content, `"needs_doctor"`))
}

func TestClientGenerateError(t *testing.T) {
	router := provider.NewRouter(zap.NewNop())
	router.Register(&echoProvider{err: errors.New("offline")})
	c := NewClient(router, "", 0, zap.NewNop())

	_, err := Generate[verdict](context.Background(), c, "decide", "")
	assert.Error(t, err)

	_, err = c.GenerateChat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	p := DefaultPrompts()
	assert.Contains(t, p.Council.Triage, "Triage Agent")
	assert.Contains(t, p.Liaison.System, "{{profile}}")
	assert.Contains(t, Render(p.Liaison.System, map[string]string{"profile": "Name: Ada"}), "Name: Ada")

	path := filepath.Join(t.TempDir(), "prompts.toml")
	require.NoError(t, os.WriteFile(path, []byte("[council]\ncoach = \"Be a coach.\"\n"), 0o644))
	loaded, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "Be a coach.", loaded.Council.Coach)
	assert.Equal(t, p.Council.Doctor, loaded.Council.Doctor)
}
