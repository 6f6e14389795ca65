// Package profile holds the user's long-term traits, conditions and the
// per-category risk modifiers the risk engine reads.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrProfileNotFound is returned by a Backend with nothing stored yet.
var ErrProfileNotFound = errors.New("profile not found")

// Modifier categories.
const (
	Sedentary  = "sedentary"
	ScreenTime = "screen_time"
)

// Profile is the persisted user profile.
type Profile struct {
	Name          string             `json:"name"`
	Role          string             `json:"role"`
	Traits        []string           `json:"traits"`
	Conditions    []string           `json:"conditions"`
	Habits        []string           `json:"habits"`
	Preferences   map[string]any     `json:"preferences"`
	RiskModifiers map[string]float64 `json:"risk_modifiers"`
}

// Default returns a fresh profile.
func Default() *Profile {
	return &Profile{
		Name:          "User",
		Role:          "User",
		Traits:        []string{},
		Conditions:    []string{},
		Habits:        []string{},
		Preferences:   map[string]any{},
		RiskModifiers: map[string]float64{},
	}
}

func (p *Profile) clone() *Profile {
	cp := *p
	cp.Traits = slices.Clone(p.Traits)
	cp.Conditions = slices.Clone(p.Conditions)
	cp.Habits = slices.Clone(p.Habits)
	cp.Preferences = make(map[string]any, len(p.Preferences))
	for k, v := range p.Preferences {
		cp.Preferences[k] = v
	}
	cp.RiskModifiers = make(map[string]float64, len(p.RiskModifiers))
	for k, v := range p.RiskModifiers {
		cp.RiskModifiers[k] = v
	}
	return &cp
}

func (p *Profile) normalize() {
	d := Default()
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.Role == "" {
		p.Role = d.Role
	}
	if p.Traits == nil {
		p.Traits = []string{}
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}
	if p.Habits == nil {
		p.Habits = []string{}
	}
	if p.Preferences == nil {
		p.Preferences = map[string]any{}
	}
	if p.RiskModifiers == nil {
		p.RiskModifiers = map[string]float64{}
	}
}

// Backend persists a profile document.
type Backend interface {
	Load(ctx context.Context) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
}

// Service is the ProfileStore. Every mutation is persisted immediately.
type Service struct {
	mu      sync.RWMutex
	profile *Profile
	backend Backend
	logger  *zap.Logger
}

// NewService loads the profile from backend, creating a default one if
// nothing is stored. A broken backend yields an in-memory default.
func NewService(ctx context.Context, backend Backend, logger *zap.Logger) *Service {
	s := &Service{backend: backend, logger: logger}
	p, err := backend.Load(ctx)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		p = Default()
		if err := backend.Save(ctx, p); err != nil {
			logger.Warn("save default profile", zap.Error(err))
		}
	case err != nil:
		logger.Warn("load profile failed, using defaults", zap.Error(err))
		p = Default()
	}
	p.normalize()
	s.profile = p
	return s
}

// Get returns a copy of the profile.
func (s *Service) Get() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.clone()
}

func (s *Service) mutate(ctx context.Context, fn func(p *Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.profile.clone()
	fn(next)
	if err := s.backend.Save(ctx, next); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	s.profile = next
	return nil
}

// SetIdentity updates name and role; empty values are left unchanged.
func (s *Service) SetIdentity(ctx context.Context, name, role string) error {
	return s.mutate(ctx, func(p *Profile) {
		if name != "" {
			p.Name = name
		}
		if role != "" {
			p.Role = role
		}
	})
}

// UpdateTrait adds or removes a trait.
func (s *Service) UpdateTrait(ctx context.Context, trait, action string) error {
	return s.updateList(ctx, trait, action, func(p *Profile) *[]string { return &p.Traits })
}

// UpdateHabit adds or removes a habit.
func (s *Service) UpdateHabit(ctx context.Context, habit, action string) error {
	return s.updateList(ctx, habit, action, func(p *Profile) *[]string { return &p.Habits })
}

func (s *Service) updateList(ctx context.Context, value, action string, list func(*Profile) *[]string) error {
	if err := checkAction(action); err != nil {
		return err
	}
	return s.mutate(ctx, func(p *Profile) {
		l := list(p)
		switch action {
		case "add":
			if !slices.Contains(*l, value) {
				*l = append(*l, value)
			}
		case "remove":
			*l = slices.DeleteFunc(*l, func(v string) bool { return v == value })
		}
	})
}

// UpdateCondition adds or removes a condition and adjusts the modifiers
// it implies: back or spine problems raise sedentary risk, eye problems
// raise screen-time risk.
func (s *Service) UpdateCondition(ctx context.Context, condition, action string) error {
	if err := checkAction(action); err != nil {
		return err
	}
	lower := strings.ToLower(condition)
	back := containsAny(lower, "back", "spine", "herniation")
	eye := containsAny(lower, "eye", "vision")

	return s.mutate(ctx, func(p *Profile) {
		switch action {
		case "add":
			if slices.Contains(p.Conditions, condition) {
				return
			}
			p.Conditions = append(p.Conditions, condition)
			switch {
			case back:
				p.RiskModifiers[Sedentary] = 1.5
			case eye:
				p.RiskModifiers[ScreenTime] = 1.3
			}
			s.logger.Info("condition added", zap.String("condition", condition))
		case "remove":
			if !slices.Contains(p.Conditions, condition) {
				return
			}
			p.Conditions = slices.DeleteFunc(p.Conditions, func(v string) bool { return v == condition })
			switch {
			case back:
				p.RiskModifiers[Sedentary] = 1.0
			case eye:
				p.RiskModifiers[ScreenTime] = 1.0
			}
			s.logger.Info("condition removed", zap.String("condition", condition))
		}
	})
}

// SetPreference stores a preference value.
func (s *Service) SetPreference(ctx context.Context, key string, value any) error {
	return s.mutate(ctx, func(p *Profile) { p.Preferences[key] = value })
}

// BoolPreference reads a boolean preference, false when unset.
func (s *Service) BoolPreference(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch v := s.profile.Preferences[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// RiskModifier returns the multiplier for category, 1.0 when unset.
func (s *Service) RiskModifier(category string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.profile.RiskModifiers[category]; ok {
		return v
	}
	return 1.0
}

// SetRiskModifier stores the multiplier for category.
func (s *Service) SetRiskModifier(ctx context.Context, category string, value float64) error {
	return s.mutate(ctx, func(p *Profile) { p.RiskModifiers[category] = value })
}

// Summary renders the profile as an LLM context block.
func (s *Service) Summary() string {
	p := s.Get()
	mods, _ := json.Marshal(p.RiskModifiers)
	prefs, _ := json.Marshal(p.Preferences)

	keys := make([]string, 0, len(p.RiskModifiers))
	for k := range p.RiskModifiers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("User Profile:\n")
	fmt.Fprintf(&b, "- Name: %s\n", p.Name)
	fmt.Fprintf(&b, "- Role: %s\n", p.Role)
	fmt.Fprintf(&b, "- Traits: %s\n", strings.Join(p.Traits, ", "))
	fmt.Fprintf(&b, "- Conditions: %s\n", strings.Join(p.Conditions, ", "))
	fmt.Fprintf(&b, "- Habits: %s\n", strings.Join(p.Habits, ", "))
	fmt.Fprintf(&b, "- Risk Modifiers: %s\n", mods)
	fmt.Fprintf(&b, "- Preferences: %s\n", prefs)
	return b.String()
}

func checkAction(action string) error {
	if action != "add" && action != "remove" {
		return fmt.Errorf("unknown action %q, want add or remove", action)
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
