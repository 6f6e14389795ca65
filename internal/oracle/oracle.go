// Package oracle is the natural-language reasoning boundary. Callers hand it
// a prompt plus a result schema (or a message list) and get back structured
// data or text; every call may fail and callers supply neutral fallbacks.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Oracle is the reasoning service consumed by the council, the graph
// enricher, the memory store and the liaison.
type Oracle interface {
	// GenerateStructured returns raw JSON conforming to schema.
	GenerateStructured(ctx context.Context, prompt string, schema Schema, background string) (string, error)
	GenerateChat(ctx context.Context, messages []Message) (string, error)
}

// RoleRouter is implemented by oracles that can bind a persona role to a
// dedicated backend.
type RoleRouter interface {
	ForRole(role string) Oracle
}

// ForRole returns o bound to role when o supports it, o otherwise.
func ForRole(o Oracle, role string) Oracle {
	if r, ok := o.(RoleRouter); ok {
		return r.ForRole(role)
	}
	return o
}

// Generate asks o for a value of type T and decodes the reply.
func Generate[T any](ctx context.Context, o Oracle, prompt, background string) (T, error) {
	var zero T
	raw, err := o.GenerateStructured(ctx, prompt, SchemaFor[T](), background)
	if err != nil {
		return zero, err
	}
	return ParseJSON[T](raw)
}

// ParseJSON extracts the outermost JSON object from an LLM reply and decodes
// it. Surrounding prose and markdown fences are ignored.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	start := -1
	for i, c := range response {
		if c == '{' {
			start = i
			break
		}
	}
	if start == -1 {
		return zero, fmt.Errorf("no JSON object found in response")
	}
	end := -1
	for i := len(response) - 1; i >= start; i-- {
		if response[i] == '}' {
			end = i + 1
			break
		}
	}
	if end == -1 {
		return zero, fmt.Errorf("unterminated JSON object in response")
	}

	var result T
	if err := json.Unmarshal([]byte(response[start:end]), &result); err != nil {
		return zero, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
