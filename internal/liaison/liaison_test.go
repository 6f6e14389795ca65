package liaison

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"github.com/nidhogg/vitalcore/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chatScript struct {
	mu      sync.Mutex
	replies []string
	seen    [][]oracle.Message
}

func (c *chatScript) GenerateStructured(context.Context, string, oracle.Schema, string) (string, error) {
	return "", errors.New("not used")
}

func (c *chatScript) GenerateChat(_ context.Context, msgs []oracle.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, append([]oracle.Message(nil), msgs...))
	if len(c.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

type stubMemory struct{ entries []memory.Entry }

func (s stubMemory) Recall(context.Context, string, int) ([]memory.Entry, error) { return s.entries, nil }

type stubGraph struct{}

func (stubGraph) Describe(int, int) string { return "Grind: true (75m)" }

type stubOverrides struct{ set map[string]int }

func (s *stubOverrides) SetOverride(t string, m int) { s.set[t] = m }

func newProfiles(t *testing.T) *profile.Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.json")
	return profile.NewService(context.Background(), profile.FileBackend{Path: path}, zap.NewNop())
}

func newLiaison(t *testing.T, script *chatScript) (*Liaison, *profile.Service, *stubOverrides) {
	t.Helper()
	profiles := newProfiles(t)
	ov := &stubOverrides{set: map[string]int{}}
	reg := NewToolRegistry()
	RegisterBuiltinTools(reg, profiles, stubMemory{entries: []memory.Entry{{ID: "m1", Statement: "Coding late"}}}, stubGraph{}, ov)
	return New(script, "You know: {{profile}}", profiles, reg, zap.NewNop()), profiles, ov
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		tool  ToolName
		found bool
		err   bool
	}{
		{"fenced", "Sure.\n```json\n{\"tool\": \"get_profile\", \"args\": {}}\n```", ToolGetProfile, true, false},
		{"bare", `{"tool":"query_graph","args":{"question":"work?"}}`, ToolQueryGraph, true, false},
		{"plain chat", "Drink some water!", "", false, false},
		{"braces without tool", "I like {curly} things", "", false, false},
		{"broken fence", "```json\n{\"tool\": }\n```", "", true, true},
		{"fence without tool", "```json\n{\"args\": {}}\n```", "", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, found, err := ParseCommand(tc.reply)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.err, err != nil)
			assert.Equal(t, tc.tool, cmd.Tool)
		})
	}
}

func TestPlainReply(t *testing.T) {
	script := &chatScript{replies: []string{"Hello there."}}
	l, _, _ := newLiaison(t, script)

	r := l.Chat(context.Background(), nil, "hi")
	assert.Equal(t, "Hello there.", r.Content)
	assert.Empty(t, r.Steps)
	require.Len(t, script.seen, 1)
	assert.Equal(t, "system", script.seen[0][0].Role)
	assert.Contains(t, script.seen[0][0].Content, "You know: ")
	assert.NotContains(t, script.seen[0][0].Content, "{{profile}}")
}

func TestUpdateConditionThroughTool(t *testing.T) {
	script := &chatScript{replies: []string{
		"```json\n{\"tool\":\"update_profile\",\"args\":{\"key\":\"condition\",\"value\":\"Lumbar disc herniation\",\"action\":\"add\"}}\n```",
		"Noted, I'll watch your sitting time.",
	}}
	l, profiles, _ := newLiaison(t, script)

	r := l.Chat(context.Background(), nil, "my back hurts, I have a herniated disc")
	assert.Equal(t, "Noted, I'll watch your sitting time.", r.Content)
	require.Len(t, r.Steps, 1)
	assert.Equal(t, ToolUpdateProfile, r.Steps[0].Tool)
	assert.Equal(t, 1.5, profiles.RiskModifier(profile.Sedentary))

	last := script.seen[1]
	assert.Equal(t, "assistant", last[len(last)-2].Role)
	assert.True(t, strings.HasPrefix(last[len(last)-1].Content, "Tool Output: Profile updated"))
}

func TestUnknownToolReportedAsError(t *testing.T) {
	script := &chatScript{replies: []string{`{"tool":"launch_rocket","args":{}}`, "Sorry, I can't do that."}}
	l, _, _ := newLiaison(t, script)

	r := l.Chat(context.Background(), nil, "launch")
	assert.Equal(t, "Sorry, I can't do that.", r.Content)
	require.Len(t, r.Steps, 1)
	assert.Equal(t, "Error: unknown tool launch_rocket", r.Steps[0].Output)
}

func TestMalformedCommandIsRecoverable(t *testing.T) {
	script := &chatScript{replies: []string{"```json\n{\"tool\": oops}\n```", "Let me answer directly."}}
	l, _, _ := newLiaison(t, script)

	r := l.Chat(context.Background(), nil, "x")
	assert.Equal(t, "Let me answer directly.", r.Content)
	last := script.seen[1]
	assert.True(t, strings.HasPrefix(last[len(last)-1].Content, "Tool Output: Tool Execution Error:"))
}

func TestLoopStopsAfterThreeTurns(t *testing.T) {
	cmd := `{"tool":"get_profile","args":{}}`
	script := &chatScript{replies: []string{cmd, cmd, cmd, "never reached"}}
	l, _, _ := newLiaison(t, script)

	r := l.Chat(context.Background(), nil, "x")
	assert.Equal(t, pauseReply, r.Content)
	assert.Len(t, r.Steps, 3)
	assert.Len(t, script.seen, 3)
}

func TestOracleFailureDegrades(t *testing.T) {
	l, _, _ := newLiaison(t, &chatScript{})
	assert.Equal(t, troubleReply, l.Chat(context.Background(), nil, "x").Content)
}

func TestBuiltinTools(t *testing.T) {
	ctx := context.Background()
	profiles := newProfiles(t)
	ov := &stubOverrides{set: map[string]int{}}
	reg := NewToolRegistry()
	RegisterBuiltinTools(reg, profiles, stubMemory{entries: []memory.Entry{{ID: "m1", Statement: "Coding late"}}}, stubGraph{}, ov)
	assert.Len(t, reg.Names(), 6)

	out, err := reg.Execute(ctx, Command{Tool: ToolSetPreference, Args: []byte(`{"key":"mute_hydration","value":"TRUE"}`)})
	require.NoError(t, err)
	assert.Equal(t, "Preference set: mute_hydration = true", out)
	assert.True(t, profiles.BoolPreference("mute_hydration"))

	out, err = reg.Execute(ctx, Command{Tool: ToolSetPreference, Args: []byte(`{"key":"mute_posture","value":false}`)})
	require.NoError(t, err)
	assert.Contains(t, out, "= false")

	out, err = reg.Execute(ctx, Command{Tool: ToolSearchMemory, Args: []byte(`{"query":"coding"}`)})
	require.NoError(t, err)
	assert.Contains(t, out, "Coding late")

	out, err = reg.Execute(ctx, Command{Tool: ToolQueryGraph, Args: []byte(`{"question":"am I working too much?"}`)})
	require.NoError(t, err)
	assert.Contains(t, out, "Grind: true")

	_, err = reg.Execute(ctx, Command{Tool: ToolSetRiskOverride, Args: []byte(`{"risk_type":"duration","duration_minutes":60}`)})
	require.NoError(t, err)
	assert.Equal(t, 60, ov.set["duration"])

	_, err = reg.Execute(ctx, Command{Tool: ToolSetRiskOverride, Args: []byte(`{"risk_type":"duration"}`)})
	assert.Error(t, err)

	_, err = reg.Execute(ctx, Command{Tool: ToolUpdateProfile, Args: []byte(`{"key":"mood","value":"x"}`)})
	assert.Error(t, err)

	out, err = reg.Execute(ctx, Command{Tool: ToolGetProfile})
	require.NoError(t, err)
	assert.Contains(t, out, `"mute_hydration":true`)

	_, err = reg.Execute(ctx, Command{Tool: "nope"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestToolArgsRejectUnknownFields(t *testing.T) {
	reg := NewToolRegistry()
	ov := &stubOverrides{set: map[string]int{}}
	RegisterBuiltinTools(reg, newProfiles(t), stubMemory{}, stubGraph{}, ov)

	_, err := reg.Execute(context.Background(), Command{Tool: ToolSetRiskOverride, Args: []byte(`{"risk_type":"duration","duration_minutes":60,"minutes":5}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
	assert.Empty(t, ov.set)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := "héllo wörld ✓✓✓"
	for n := 0; n < len(s); n++ {
		out := truncate(s, n)
		assert.True(t, utf8.ValidString(out), "n=%d produced %q", n, out)
		assert.True(t, strings.HasSuffix(out, "..."))
	}
	assert.Equal(t, "abc", truncate("abc", 3))
}
