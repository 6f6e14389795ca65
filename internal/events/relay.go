package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamKey    = "vital:events"
	replayPrefix = "relay:"
	readBackoff  = time.Second
)

// IsReplay reports whether e was republished from another process.
func IsReplay(e Event) bool { return strings.HasPrefix(e.Source, replayPrefix) }

// StreamRelay mirrors local events into a Redis stream and replays events
// published by other processes onto the local bus.
type StreamRelay struct {
	rdb    *redis.Client
	bus    *Bus
	origin string
	logger *zap.Logger
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewStreamRelay connects to redisURL. origin identifies this process so
// its own events are not replayed back onto its bus.
func NewStreamRelay(redisURL, origin string, bus *Bus, logger *zap.Logger) (*StreamRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &StreamRelay{rdb: rdb, bus: bus, origin: origin, logger: logger}, nil
}

// Attach subscribes the relay to the given event types on the local bus.
func (r *StreamRelay) Attach(types ...Type) error {
	for _, t := range types {
		if err := r.bus.Subscribe(t, r.forward); err != nil {
			return err
		}
	}
	return nil
}

func (r *StreamRelay) forward(ctx context.Context, e Event) error {
	if IsReplay(e) {
		return nil
	}
	data, err := json.Marshal(envelope{Origin: r.origin, Event: e})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("relay to %s: %w", streamKey, err)
	}
	return nil
}

func (r *StreamRelay) replaySource() string { return replayPrefix + r.origin }

// Run reads the stream until ctx is cancelled, republishing foreign events.
func (r *StreamRelay) Run(ctx context.Context) {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   10,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			r.logger.Debug("relay read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, s := range results {
			for _, msg := range s.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var env envelope
				if json.Unmarshal([]byte(data), &env) != nil || env.Origin == r.origin {
					continue
				}
				ev := env.Event
				ev.Source = r.replaySource()
				if err := r.bus.Publish(ctx, ev); err != nil {
					r.logger.Warn("replay failed", zap.String("type", string(ev.Type)), zap.Error(err))
				}
			}
		}
	}
}

// Close shuts down the Redis connection.
func (r *StreamRelay) Close() error {
	return r.rdb.Close()
}
