package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/vitalcore/internal/council"
	"go.uber.org/zap"
)

const historyLimit = 200

// AlertRecord tracks a sent alert for history.
type AlertRecord struct {
	Alert   Alert     `json:"alert"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
	Error   string    `json:"error,omitempty"`
}

// Broadcaster turns council plans and pulse nudges into platform alerts
// and keeps a bounded history of what was sent.
type Broadcaster struct {
	gateway *Gateway
	mu      sync.RWMutex
	history []AlertRecord
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given gateway.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{gateway: gw, logger: logger}
}

// Notify implements council.Notifier.
func (b *Broadcaster) Notify(ctx context.Context, plan council.ActionPlan) error {
	return b.Send(ctx, &Alert{
		Kind:     AlertRisk,
		Category: plan.RiskType,
		Level:    string(plan.RiskLevel),
		Content:  plan.Message(),
	})
}

// Nudge implements pulse.Nudger.
func (b *Broadcaster) Nudge(ctx context.Context, category, message string) error {
	return b.Send(ctx, &Alert{Kind: AlertNudge, Category: category, Content: message})
}

// Send broadcasts alert to every platform and records it.
func (b *Broadcaster) Send(ctx context.Context, alert *Alert) error {
	b.logger.Info("sending alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("category", alert.Category),
		zap.String("level", alert.Level))

	err := b.gateway.Broadcast(ctx, alert)
	rec := AlertRecord{Alert: *alert, SentAt: time.Now(), Targets: b.gateway.Adapters()}
	if err != nil {
		rec.Error = err.Error()
	}

	b.mu.Lock()
	b.history = append(b.history, rec)
	if len(b.history) > historyLimit {
		b.history = append([]AlertRecord(nil), b.history[len(b.history)-historyLimit:]...)
	}
	b.mu.Unlock()
	return err
}

// History returns up to limit recent records, oldest first.
func (b *Broadcaster) History(limit int) []AlertRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	start := len(b.history) - limit
	return append([]AlertRecord(nil), b.history[start:]...)
}
