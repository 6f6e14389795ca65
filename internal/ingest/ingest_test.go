package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/nidhogg/vitalcore/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestReadingEvent(t *testing.T) {
	d := 300
	e, err := Reading{Text: " coding session ", Type: "screen", Duration: &d, Extra: map[string]any{"app": "vscode"}}.Event("api")
	require.NoError(t, err)
	assert.Equal(t, events.DataIngested, e.Type)
	assert.Equal(t, "api", e.Source)
	assert.Equal(t, "coding session", e.String("text"))
	assert.Equal(t, "vscode", e.String("app"))
	got, ok := e.Int("duration")
	assert.True(t, ok)
	assert.Equal(t, 300, got)

	_, err = Reading{Text: "  "}.Event("api")
	assert.ErrorIs(t, err, ErrEmptyReading)
}

func TestParseMessage(t *testing.T) {
	r := ParseMessage("vital/sensors/watch", []byte(`{"text":"heart rate 120","duration":30}`))
	assert.Equal(t, "heart rate 120", r.Text)
	assert.Equal(t, "watch", r.Type)
	require.NotNil(t, r.Duration)
	assert.Equal(t, 30, *r.Duration)

	r = ParseMessage("vital/sensors/screen", []byte("YouTube for 2 hours"))
	assert.Equal(t, "YouTube for 2 hours", r.Text)
	assert.Equal(t, "screen", r.Type)
	assert.Nil(t, r.Duration)
}

func TestBridgeHandlePublishes(t *testing.T) {
	pub := &capture{}
	b := NewMQTTBridge("tcp://127.0.0.1:1", "test", "vital/#", pub, zap.NewNop())

	b.handle(nil, fakeMessage{topic: "vital/sensors/watch", payload: []byte(`{"text":"dizzy","type":"symptom"}`)})
	b.handle(nil, fakeMessage{topic: "vital/sensors/watch", payload: []byte(``)})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "mqtt:vital/sensors/watch", pub.events[0].Source)
	assert.Equal(t, "symptom", pub.events[0].String("type"))
}
