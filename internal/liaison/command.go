package liaison

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ToolName enumerates the tools the liaison can call.
type ToolName string

const (
	ToolUpdateProfile   ToolName = "update_profile"
	ToolSearchMemory    ToolName = "search_memory"
	ToolSetPreference   ToolName = "set_preference"
	ToolQueryGraph      ToolName = "query_graph"
	ToolSetRiskOverride ToolName = "set_risk_override"
	ToolGetProfile      ToolName = "get_profile"
)

// ErrUnknownTool is returned for a command naming no registered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Command is a tool invocation emitted by the Oracle.
type Command struct {
	Tool ToolName        `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

var fenced = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseCommand looks for a command in reply, either in a fenced block or
// as a bare JSON object. found is false for an ordinary chat reply. A
// fenced block that is not a valid command is an error.
func ParseCommand(reply string) (cmd Command, found bool, err error) {
	if m := fenced.FindStringSubmatch(reply); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &cmd); err != nil {
			return Command{}, true, fmt.Errorf("parse tool command: %w", err)
		}
		if cmd.Tool == "" {
			return Command{}, true, errors.New("parse tool command: missing tool name")
		}
		return cmd, true, nil
	}

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Command{}, false, nil
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &cmd); err != nil || cmd.Tool == "" {
		return Command{}, false, nil
	}
	return cmd, true, nil
}

// UpdateProfileArgs are the arguments of update_profile.
type UpdateProfileArgs struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Action string `json:"action"`
}

func (a *UpdateProfileArgs) validate() error {
	switch a.Key {
	case "trait", "condition", "habit":
	default:
		return fmt.Errorf("key must be trait, condition or habit, got %q", a.Key)
	}
	if strings.TrimSpace(a.Value) == "" {
		return errors.New("value is required")
	}
	if a.Action == "" {
		a.Action = "add"
	}
	if a.Action != "add" && a.Action != "remove" {
		return fmt.Errorf("action must be add or remove, got %q", a.Action)
	}
	return nil
}

// SearchMemoryArgs are the arguments of search_memory.
type SearchMemoryArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (a *SearchMemoryArgs) validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return errors.New("query is required")
	}
	if a.K <= 0 || a.K > 10 {
		a.K = 3
	}
	return nil
}

// SetPreferenceArgs are the arguments of set_preference. Value accepts a
// JSON bool or a string such as "true".
type SetPreferenceArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (a *SetPreferenceArgs) bool() (bool, error) {
	if strings.TrimSpace(a.Key) == "" {
		return false, errors.New("key is required")
	}
	var b bool
	if err := json.Unmarshal(a.Value, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(a.Value, &s); err != nil {
		return false, errors.New("value must be a boolean")
	}
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return false, nil
	}
	return v, nil
}

// QueryGraphArgs are the arguments of query_graph.
type QueryGraphArgs struct {
	Question string `json:"question"`
}

// SetRiskOverrideArgs are the arguments of set_risk_override.
type SetRiskOverrideArgs struct {
	RiskType        string `json:"risk_type"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (a *SetRiskOverrideArgs) validate() error {
	if strings.TrimSpace(a.RiskType) == "" {
		return errors.New("risk_type is required")
	}
	if a.DurationMinutes <= 0 {
		return errors.New("duration_minutes must be positive")
	}
	return nil
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}
	return nil
}
