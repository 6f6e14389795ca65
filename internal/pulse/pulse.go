// Package pulse is the proactive heartbeat: it re-reads the knowledge graph
// on a timer and nudges the user when a check fires outside its cooldown.
package pulse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nidhogg/vitalcore/internal/classify"
	"github.com/nidhogg/vitalcore/internal/graph"
	"github.com/nidhogg/vitalcore/internal/memory"
	"go.uber.org/zap"
)

const (
	defaultInterval       = 60 * time.Second
	defaultStartupGap     = 4 * time.Hour
	defaultGrindThreshold = 60
	beatTimeout           = 30 * time.Second
)

// Graph is the read side of the knowledge graph.
type Graph interface {
	LatestMemory() (time.Time, bool)
	LatestMatching(cat classify.Category) (time.Time, bool)
	DetectGrindPattern(thresholdMinutes int) graph.PatternResult
}

// Consolidator summarizes episodes after a long absence.
type Consolidator interface {
	Consolidate(ctx context.Context) (*memory.Entry, error)
}

// Preferences exposes the user's mute switches.
type Preferences interface {
	BoolPreference(key string) bool
}

// Transport pushes named events to UI clients.
type Transport interface {
	Emit(name string, payload any)
}

// Nudger delivers a proactive message out of band.
type Nudger interface {
	Nudge(ctx context.Context, category, message string) error
}

// Fired describes one intervention.
type Fired struct {
	Category string    `json:"category"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithLedger replaces the in-memory cooldown ledger.
func WithLedger(l Ledger) Option { return func(s *Scheduler) { s.ledger = l } }

// WithConsolidator enables the startup-gap consolidation.
func WithConsolidator(c Consolidator) Option { return func(s *Scheduler) { s.consolidator = c } }

// WithPreferences enables mute_<category> switches.
func WithPreferences(p Preferences) Option { return func(s *Scheduler) { s.prefs = p } }

// WithTransport emits interventions to UI clients.
func WithTransport(t Transport) Option { return func(s *Scheduler) { s.transport = t } }

// WithNudgers adds out-of-band channels.
func WithNudgers(n ...Nudger) Option {
	return func(s *Scheduler) { s.nudgers = append(s.nudgers, n...) }
}

// WithCooldown overrides the cooldown of one category.
func WithCooldown(category string, d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.cooldowns[category] = d
		}
	}
}

// WithStartupGap sets the absence that triggers consolidation.
func WithStartupGap(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.startupGap = d
		}
	}
}

// WithGrindThreshold sets the streak length for the posture check.
func WithGrindThreshold(minutes int) Option {
	return func(s *Scheduler) {
		if minutes > 0 {
			s.grindThreshold = minutes
		}
	}
}

// Scheduler runs the proactive checks.
type Scheduler struct {
	graph          Graph
	ledger         Ledger
	consolidator   Consolidator
	prefs          Preferences
	transport      Transport
	nudgers        []Nudger
	checks         []Check
	cooldowns      map[string]time.Duration
	interval       time.Duration
	startupGap     time.Duration
	grindThreshold int
	now            func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// NewScheduler creates a scheduler with the hydration, posture and
// connection checks.
func NewScheduler(g Graph, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:          g,
		ledger:         NewMemLedger(),
		cooldowns:      DefaultCooldowns(),
		interval:       defaultInterval,
		startupGap:     defaultStartupGap,
		grindThreshold: defaultGrindThreshold,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.checks = s.defaultChecks()
	return s
}

// Start runs the startup-gap check and then beats every interval in the
// background until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("pulse started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight beat to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("pulse stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.CheckStartupGap(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Beat(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckStartupGap consolidates memories when the newest one is older than
// the startup gap. It reports whether consolidation ran.
func (s *Scheduler) CheckStartupGap(ctx context.Context) bool {
	if s.consolidator == nil {
		return false
	}
	last, ok := s.graph.LatestMemory()
	if !ok {
		return false
	}
	gap := s.now().Sub(last)
	s.logger.Info("startup gap", zap.Duration("gap", gap))
	if gap <= s.startupGap {
		return false
	}

	summary, err := s.consolidator.Consolidate(ctx)
	switch {
	case errors.Is(err, memory.ErrNothingToConsolidate):
		return false
	case err != nil:
		s.logger.Warn("wake-up consolidation failed", zap.Error(err))
		return false
	}
	s.logger.Info("wake-up consolidation done", zap.String("summary", summary.ID))
	return true
}

// Beat evaluates every check once and returns those that fired.
func (s *Scheduler) Beat(ctx context.Context) []Fired {
	ctx, cancel := context.WithTimeout(ctx, beatTimeout)
	defer cancel()

	var fired []Fired
	for _, c := range s.checks {
		f, ok := s.run(ctx, c)
		if ok {
			fired = append(fired, f)
		}
	}
	return fired
}

func (s *Scheduler) run(ctx context.Context, c Check) (f Fired, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pulse check panicked", zap.String("category", c.Category), zap.Any("panic", r))
			ok = false
		}
	}()

	if s.prefs != nil && s.prefs.BoolPreference("mute_"+c.Category) {
		return Fired{}, false
	}
	now := s.now()
	last, seen, err := s.ledger.Last(ctx, c.Category)
	if err != nil {
		s.logger.Warn("read cooldown failed", zap.String("category", c.Category), zap.Error(err))
		return Fired{}, false
	}
	if seen && now.Sub(last) <= c.Cooldown {
		return Fired{}, false
	}

	msg := c.Evaluate(ctx, now)
	if msg == "" {
		return Fired{}, false
	}
	if err := s.ledger.Mark(ctx, c.Category, now); err != nil {
		s.logger.Warn("write cooldown failed", zap.String("category", c.Category), zap.Error(err))
	}
	s.intervene(ctx, c.Category, msg)
	return Fired{Category: c.Category, Message: msg, At: now}, true
}

func (s *Scheduler) intervene(ctx context.Context, category, msg string) {
	s.logger.Info("intervening", zap.String("category", category))
	if s.transport != nil {
		s.transport.Emit("chat_reply", map[string]any{"message": msg})
		s.transport.Emit("intervention", map[string]any{"category": category, "message": msg})
	}
	for _, n := range s.nudgers {
		if err := n.Nudge(ctx, category, msg); err != nil {
			s.logger.Warn("nudge failed", zap.String("category", category), zap.Error(err))
		}
	}
}
