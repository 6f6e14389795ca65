package gateway

import (
	"context"
	"time"
)

// Adapter is a chat platform the gateway can talk through.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Broadcast(ctx context.Context, alert *Alert) error
	Status() AdapterStatus
	Close() error
}

// MessageHandler answers an inbound message. An empty reply sends nothing.
type MessageHandler func(ctx context.Context, msg *InboundMessage) string

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// AlertKind separates council plans from proactive nudges.
type AlertKind string

const (
	AlertRisk  AlertKind = "risk"
	AlertNudge AlertKind = "nudge"
)

// Alert is an intervention pushed to every platform.
type Alert struct {
	Kind     AlertKind `json:"kind"`
	Category string    `json:"category"`
	Level    string    `json:"level,omitempty"`
	Content  string    `json:"content"`
}

// AdapterStatus reports an adapter's connection state.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
