package pulse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers when each category last fired.
type Ledger interface {
	Last(ctx context.Context, category string) (time.Time, bool, error)
	Mark(ctx context.Context, category string, at time.Time) error
}

// MemLedger is a process-local Ledger.
type MemLedger struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

// NewMemLedger creates an empty ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{last: make(map[string]time.Time)}
}

func (l *MemLedger) Last(_ context.Context, category string) (time.Time, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.last[category]
	return t, ok, nil
}

func (l *MemLedger) Mark(_ context.Context, category string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[category] = at
	return nil
}

const ledgerPrefix = "vital:pulse:last:"

// RedisLedger keeps cooldown timestamps in Redis so they survive restarts.
type RedisLedger struct {
	rdb *redis.Client
}

// NewRedisLedger connects to redisURL.
func NewRedisLedger(ctx context.Context, redisURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisLedger{rdb: rdb}, nil
}

func (l *RedisLedger) Last(ctx context.Context, category string) (time.Time, bool, error) {
	v, err := l.rdb.Get(ctx, ledgerPrefix+category).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cooldown %s: %w", category, err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cooldown %s: %w", category, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (l *RedisLedger) Mark(ctx context.Context, category string, at time.Time) error {
	if err := l.rdb.Set(ctx, ledgerPrefix+category, at.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("write cooldown %s: %w", category, err)
	}
	return nil
}

// Close releases the connection.
func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}
