package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishWaitsForAllHandlers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var done atomic.Int32
	for _, d := range []time.Duration{time.Millisecond, 50 * time.Millisecond, 5 * time.Millisecond} {
		require.NoError(t, bus.Subscribe(DataIngested, func(ctx context.Context, e Event) error {
			time.Sleep(d)
			done.Add(1)
			return nil
		}))
	}

	require.NoError(t, bus.Publish(context.Background(), New(DataIngested, "test", nil)))
	assert.Equal(t, int32(3), done.Load())
}

func TestPublishRunsHandlersConcurrently(t *testing.T) {
	bus := NewBus(zap.NewNop())
	release := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < 2; i++ {
		require.NoError(t, bus.Subscribe(DataIngested, func(ctx context.Context, e Event) error {
			if started.Add(1) == 2 {
				close(release)
			}
			select {
			case <-release:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("handlers ran sequentially")
			}
		}))
	}
	require.NoError(t, bus.Publish(context.Background(), New(DataIngested, "test", nil)))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	assert.NoError(t, bus.Publish(context.Background(), New(ActionRequired, "test", nil)))
}

func TestUnknownType(t *testing.T) {
	bus := NewBus(zap.NewNop())
	assert.Error(t, bus.Publish(context.Background(), New("BOGUS", "test", nil)))
	assert.Error(t, bus.Subscribe("BOGUS", func(context.Context, Event) error { return nil }))
	assert.Len(t, Types(), 5)
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var ran atomic.Int32
	require.NoError(t, bus.Subscribe(Error, func(context.Context, Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(Error, func(context.Context, Event) error {
		panic("kaboom")
	}))
	require.NoError(t, bus.Subscribe(Error, func(context.Context, Event) error {
		time.Sleep(10 * time.Millisecond)
		ran.Add(1)
		return nil
	}))

	err := bus.Publish(context.Background(), New(Error, "test", nil))
	assert.Error(t, err)
	assert.Equal(t, int32(1), ran.Load())
}

func TestPayloadAccessors(t *testing.T) {
	e := New(DataIngested, "mqtt", map[string]any{"text": "coding", "duration": float64(90), "n": 3})
	assert.Equal(t, "coding", e.String("text"))
	assert.Equal(t, "", e.String("missing"))
	d, ok := e.Int("duration")
	assert.True(t, ok)
	assert.Equal(t, 90, d)
	_, ok = e.Int("text")
	assert.False(t, ok)
	assert.False(t, e.Timestamp.IsZero())
}
