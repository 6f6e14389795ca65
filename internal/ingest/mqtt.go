package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout = 10 * time.Second
	handleTimeout  = 2 * time.Minute
)

// MQTTBridge subscribes to sensor topics and republishes each message as
// a DATA_INGESTED event.
type MQTTBridge struct {
	client paho.Client
	topic  string
	pub    Publisher
	mu     sync.Mutex
	logger *zap.Logger
}

// NewMQTTBridge creates a bridge but does not connect.
func NewMQTTBridge(broker, clientID, topic string, pub Publisher, logger *zap.Logger) *MQTTBridge {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOrderMatters(false)

	b := &MQTTBridge{topic: topic, pub: pub, logger: logger}
	opts.SetOnConnectHandler(func(c paho.Client) {
		// Subscriptions are lost on reconnect with a clean session.
		if err := b.subscribe(); err != nil {
			logger.Warn("mqtt resubscribe failed", zap.Error(err))
		}
	})
	b.client = paho.NewClient(opts)
	return b
}

// Start connects to the broker; the subscription is made on connect.
func (b *MQTTBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.logger.Info("mqtt bridge connected", zap.String("topic", b.topic))
	return nil
}

func (b *MQTTBridge) subscribe() error {
	token := b.client.Subscribe(b.topic, 1, b.handle)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", b.topic)
	}
	return token.Error()
}

// Stop disconnects from the broker.
func (b *MQTTBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client.Disconnect(1000)
}

func (b *MQTTBridge) handle(_ paho.Client, msg paho.Message) {
	r := ParseMessage(msg.Topic(), msg.Payload())
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := Publish(ctx, b.pub, "mqtt:"+msg.Topic(), r); err != nil {
		b.logger.Warn("mqtt reading dropped", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// ParseMessage decodes a JSON reading. Anything else is taken as plain
// text typed by the last topic segment.
func ParseMessage(topic string, payload []byte) Reading {
	var r Reading
	if err := json.Unmarshal(payload, &r); err == nil && r.Text != "" {
		if r.Type == "" {
			r.Type = path.Base(topic)
		}
		return r
	}
	return Reading{Text: string(payload), Type: path.Base(topic)}
}
