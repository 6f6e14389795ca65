package liaison

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/profile"
)

const graphThreshold = 60

// ToolHandler executes a tool call and returns the result as a string.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// ToolRegistry holds available tools and their handlers.
type ToolRegistry struct {
	handlers map[ToolName]ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{handlers: make(map[ToolName]ToolHandler)}
}

// Register adds a tool handler.
func (r *ToolRegistry) Register(name ToolName, handler ToolHandler) {
	r.handlers[name] = handler
}

// Names lists the registered tools.
func (r *ToolRegistry) Names() []ToolName {
	out := make([]ToolName, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs a command.
func (r *ToolRegistry) Execute(ctx context.Context, cmd Command) (string, error) {
	h, ok := r.handlers[cmd.Tool]
	if !ok {
		return "", fmt.Errorf("%w %s", ErrUnknownTool, cmd.Tool)
	}
	return h(ctx, cmd.Args)
}

// Profiles is the profile service as seen by the tools.
type Profiles interface {
	Get() *profile.Profile
	Summary() string
	UpdateTrait(ctx context.Context, trait, action string) error
	UpdateHabit(ctx context.Context, habit, action string) error
	UpdateCondition(ctx context.Context, condition, action string) error
	SetPreference(ctx context.Context, key string, value any) error
}

// MemorySearcher recalls episodes.
type MemorySearcher interface {
	Recall(ctx context.Context, query string, k int) ([]memory.Entry, error)
}

// GraphReader summarises the knowledge graph.
type GraphReader interface {
	Describe(thresholdMinutes, limit int) string
}

// Overrides sets time-boxed risk suppressions.
type Overrides interface {
	SetOverride(riskType string, durationMinutes int)
}

// RegisterBuiltinTools adds the six liaison tools. Nil dependencies leave
// their tools unregistered.
func RegisterBuiltinTools(reg *ToolRegistry, profiles Profiles, mem MemorySearcher, g GraphReader, ov Overrides) {
	if profiles != nil {
		reg.Register(ToolUpdateProfile, func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a UpdateProfileArgs
			if err := decodeArgs(raw, &a); err != nil {
				return "", err
			}
			if err := a.validate(); err != nil {
				return "", err
			}
			var err error
			switch a.Key {
			case "trait":
				err = profiles.UpdateTrait(ctx, a.Value, a.Action)
			case "condition":
				err = profiles.UpdateCondition(ctx, a.Value, a.Action)
			case "habit":
				err = profiles.UpdateHabit(ctx, a.Value, a.Action)
			}
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Profile updated: %s %s '%s'.", a.Action, a.Key, a.Value), nil
		})

		reg.Register(ToolSetPreference, func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a SetPreferenceArgs
			if err := decodeArgs(raw, &a); err != nil {
				return "", err
			}
			v, err := a.bool()
			if err != nil {
				return "", err
			}
			if err := profiles.SetPreference(ctx, a.Key, v); err != nil {
				return "", err
			}
			return fmt.Sprintf("Preference set: %s = %t", a.Key, v), nil
		})

		reg.Register(ToolGetProfile, func(ctx context.Context, _ json.RawMessage) (string, error) {
			b, err := json.Marshal(profiles.Get())
			if err != nil {
				return "", fmt.Errorf("marshal profile: %w", err)
			}
			return string(b), nil
		})
	}

	if mem != nil {
		reg.Register(ToolSearchMemory, func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a SearchMemoryArgs
			if err := decodeArgs(raw, &a); err != nil {
				return "", err
			}
			if err := a.validate(); err != nil {
				return "", err
			}
			entries, err := mem.Recall(ctx, a.Query, a.K)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "No matching memories.", nil
			}
			lines := make([]string, len(entries))
			for i, e := range entries {
				lines[i] = "- " + e.String()
			}
			return strings.Join(lines, "\n"), nil
		})
	}

	if g != nil {
		reg.Register(ToolQueryGraph, func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a QueryGraphArgs
			if err := decodeArgs(raw, &a); err != nil {
				return "", err
			}
			return "Graph Analysis:\n" + g.Describe(graphThreshold, 5), nil
		})
	}

	if ov != nil {
		reg.Register(ToolSetRiskOverride, func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a SetRiskOverrideArgs
			if err := decodeArgs(raw, &a); err != nil {
				return "", err
			}
			if err := a.validate(); err != nil {
				return "", err
			}
			ov.SetOverride(a.RiskType, a.DurationMinutes)
			return fmt.Sprintf("Override set: %s ignored for %d minutes.", a.RiskType, a.DurationMinutes), nil
		})
	}
}
