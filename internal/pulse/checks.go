package pulse

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/vitalcore/internal/classify"
)

const (
	CategoryHydration  = "hydration"
	CategoryPosture    = "posture"
	CategoryConnection = "connection"

	hydrationThreshold  = 4 * time.Hour
	hydrationDefaultAge = 5 * time.Hour
	connectionThreshold = 24 * time.Hour

	hydrationMessage = "Hey, I noticed it's been a while since you logged any water. " +
		"Staying hydrated helps with that brain fog. Want to grab a glass?"
	connectionMessage = "It's been a quiet day on my side. How are you feeling?"
)

// Check is one proactive trigger. Evaluate returns the message to send, or
// "" when the check has nothing to say.
type Check struct {
	Category string
	Cooldown time.Duration
	Evaluate func(ctx context.Context, now time.Time) string
}

// DefaultCooldowns are the per-category minimum gaps between interventions.
func DefaultCooldowns() map[string]time.Duration {
	return map[string]time.Duration{
		CategoryHydration:  3 * time.Hour,
		CategoryPosture:    2 * time.Hour,
		CategoryConnection: 24 * time.Hour,
	}
}

func (s *Scheduler) defaultChecks() []Check {
	return []Check{
		{Category: CategoryHydration, Cooldown: s.cooldowns[CategoryHydration], Evaluate: s.hydration},
		{Category: CategoryPosture, Cooldown: s.cooldowns[CategoryPosture], Evaluate: s.posture},
		{Category: CategoryConnection, Cooldown: s.cooldowns[CategoryConnection], Evaluate: s.connection},
	}
}

func (s *Scheduler) hydration(_ context.Context, now time.Time) string {
	last, ok := s.graph.LatestMatching(classify.Hydration)
	if !ok {
		last = now.Add(-hydrationDefaultAge)
	}
	if now.Sub(last) > hydrationThreshold {
		return hydrationMessage
	}
	return ""
}

func (s *Scheduler) posture(_ context.Context, _ time.Time) string {
	g := s.graph.DetectGrindPattern(s.grindThreshold)
	if !g.Detected {
		return ""
	}
	return fmt.Sprintf("You've been at it for %d minutes straight. Stand up, roll your shoulders and stretch for a minute.", g.Duration)
}

func (s *Scheduler) connection(_ context.Context, now time.Time) string {
	last, ok := s.graph.LatestMemory()
	if !ok || now.Sub(last) <= connectionThreshold {
		return ""
	}
	return connectionMessage
}
