// Package events is the typed pub/sub dispatcher that decouples signal
// producers from the council workflow.
package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Type names a published event.
type Type string

const (
	SystemStartup     Type = "SYSTEM_STARTUP"
	DataIngested      Type = "DATA_INGESTED"
	AnalysisCompleted Type = "ANALYSIS_COMPLETED"
	ActionRequired    Type = "ACTION_REQUIRED"
	Error             Type = "ERROR"
)

var registry = map[Type]struct{}{
	SystemStartup:     {},
	DataIngested:      {},
	AnalysisCompleted: {},
	ActionRequired:    {},
	Error:             {},
}

// Valid reports whether t is a registered event type.
func Valid(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Types returns every registered event type, sorted.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Event is immutable once published.
type Event struct {
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

// New builds an event stamped with the current time.
func New(t Type, source string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Type: t, Payload: payload, Source: source, Timestamp: time.Now()}
}

// String returns payload[key] as a string, or "".
func (e Event) String(key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// Int returns payload[key] as an int. JSON-decoded numbers are accepted.
func (e Event) Int(key string) (int, bool) {
	switch v := e.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Handler processes one event.
type Handler func(ctx context.Context, e Event) error

// Bus dispatches events to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	logger   *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		logger:   logger,
	}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) error {
	if !Valid(t) {
		return fmt.Errorf("subscribe %s: unknown event type", t)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
	return nil
}

// Publish runs every handler for e.Type concurrently and returns once all
// of them have finished. A type with no subscribers is a no-op. The first
// handler error is returned; the other handlers are not cancelled.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if !Valid(e.Type) {
		return fmt.Errorf("publish %s: unknown event type", e.Type)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	b.logger.Info("dispatching event",
		zap.String("type", string(e.Type)),
		zap.String("source", e.Source),
		zap.Int("handlers", len(handlers)))
	if len(handlers) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, h := range handlers {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return h(ctx, e)
		})
	}
	if err := g.Wait(); err != nil {
		b.logger.Warn("event handler failed", zap.String("type", string(e.Type)), zap.Error(err))
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}
