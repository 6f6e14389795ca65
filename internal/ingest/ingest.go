// Package ingest turns external signals into DATA_INGESTED events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/vitalcore/internal/events"
)

// ErrEmptyReading is returned for a reading without text.
var ErrEmptyReading = errors.New("reading has no text")

// Publisher is the event bus.
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Reading is one behavioral signal.
type Reading struct {
	Text     string         `json:"text"`
	Type     string         `json:"type"`
	Duration *int           `json:"duration,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Event converts r into a DATA_INGESTED event.
func (r Reading) Event(source string) (events.Event, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return events.Event{}, ErrEmptyReading
	}
	payload := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		payload[k] = v
	}
	payload["text"] = text
	payload["type"] = r.Type
	if r.Duration != nil {
		payload["duration"] = *r.Duration
	}
	return events.New(events.DataIngested, source, payload), nil
}

// Publish sends r to pub as a DATA_INGESTED event.
func Publish(ctx context.Context, pub Publisher, source string, r Reading) error {
	e, err := r.Event(source)
	if err != nil {
		return err
	}
	if err := pub.Publish(ctx, e); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}
	return nil
}
