package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/vitalcore/internal/classify"
)

const (
	mixedMediaReason = "Transitioned from Work to Entertainment. Mental fatigue may drop, but Eye Strain/Sedentary risk remains high."
	grindReasonFmt   = "Continuous work session of %dm detected without significant breaks."
)

// memoriesNewestFirst must be called with mu held.
func (s *Service) memoriesNewestFirst() []*Node {
	var out []*Node
	for _, n := range s.nodes {
		if n.Kind == KindMemory {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].time(), out[j].time()
		if ti.Equal(tj) {
			return out[i].ID > out[j].ID
		}
		return ti.After(tj)
	})
	return out
}

// neighbours returns the labels of non-memory nodes n links to.
func (s *Service) neighbours(id string) []string {
	var out []string
	for _, e := range s.edges {
		if e.Source != id {
			continue
		}
		if t := s.nodes[e.Target]; t != nil && t.Kind != KindMemory {
			out = append(out, t.Label)
		}
	}
	return out
}

// matches classifies a memory by its linked entities first, then by its
// own text.
func (s *Service) matches(n *Node, cat classify.Category) bool {
	for _, label := range s.neighbours(n.ID) {
		if s.classifier.Match(cat, label) {
			return true
		}
	}
	return s.classifier.Match(cat, n.Statement+" "+n.Scene)
}

// DetectGrindPattern walks memories newest-first accumulating a contiguous
// sedentary streak. Each memory contributes the gap to the next-older one
// (15 minutes when there is none); a gap above the break gap, or of two
// hours or more, ends the streak.
func (s *Service) DetectGrindPattern(thresholdMinutes int) PatternResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mems := s.memoriesNewestFirst()
	var duration float64
	var involved []string
	for i, n := range mems {
		if !s.matches(n, classify.Sedentary) {
			break
		}
		delta := float64(defaultStepMinutes)
		if i+1 < len(mems) {
			delta = n.time().Sub(mems[i+1].time()).Minutes()
		}
		if delta >= hardBreakMinutes || delta > s.breakGap {
			break
		}
		duration += delta
		involved = append(involved, n.ID)
	}

	minutes := int(duration)
	switch {
	case len(involved) == 0:
		return PatternResult{Reason: "No sedentary activity detected", InvolvedNodes: []string{}}
	case minutes > thresholdMinutes:
		return PatternResult{
			Detected:      true,
			Duration:      minutes,
			Reason:        fmt.Sprintf(grindReasonFmt, minutes),
			InvolvedNodes: involved,
		}
	default:
		return PatternResult{Duration: minutes, Reason: "Work sessions are within safe limits", InvolvedNodes: []string{}}
	}
}

// DetectMixedMediaPattern finds the first temporal transition from a work
// memory straight into an entertainment memory.
func (s *Service) DetectMixedMediaPattern() PatternResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nexts []Edge
	for _, e := range s.edges {
		if e.Relation == RelNext {
			nexts = append(nexts, e)
		}
	}
	sort.Slice(nexts, func(i, j int) bool {
		u, v := s.nodes[nexts[i].Source], s.nodes[nexts[j].Source]
		if u == nil || v == nil {
			return v != nil
		}
		return chronoBefore(u, v)
	})

	for _, e := range nexts {
		u, v := s.nodes[e.Source], s.nodes[e.Target]
		if u == nil || v == nil {
			continue
		}
		if s.matches(u, classify.Work) && s.matches(v, classify.Entertainment) {
			return PatternResult{
				Detected:      true,
				Reason:        mixedMediaReason,
				InvolvedNodes: []string{u.ID, v.ID},
			}
		}
	}
	return PatternResult{InvolvedNodes: []string{}}
}

// GetRecentActivity returns the newest memories with the time spent on each
// (the gap until the next memory) and their linked entities.
func (s *Service) GetRecentActivity(limit int) []Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mems := s.memoriesNewestFirst()
	if limit > 0 && len(mems) > limit {
		mems = mems[:limit]
	}
	out := make([]Activity, 0, len(mems))
	for i, n := range mems {
		duration := "ongoing"
		if i > 0 {
			gap := mems[i-1].time().Sub(n.time()).Minutes()
			if gap > endOfSession {
				duration = "end of session"
			} else {
				duration = fmt.Sprintf("%dm", int(gap))
			}
		}
		out = append(out, Activity{
			ID:        n.ID,
			Timestamp: n.time(),
			Statement: n.Statement,
			Duration:  duration,
			Entities:  s.neighbours(n.ID),
		})
	}
	return out
}

// LatestMemory returns the time of the newest memory, if any.
func (s *Service) LatestMemory() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mems := s.memoriesNewestFirst()
	if len(mems) == 0 {
		return time.Time{}, false
	}
	return mems[0].time(), true
}

// LatestMatching returns the time of the newest memory classified as cat.
func (s *Service) LatestMatching(cat classify.Category) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.memoriesNewestFirst() {
		if s.matches(n, cat) {
			return n.time(), true
		}
	}
	return time.Time{}, false
}

// Describe summarises detectors and recent activity as plain text.
func (s *Service) Describe(thresholdMinutes, limit int) string {
	var b strings.Builder
	grind := s.DetectGrindPattern(thresholdMinutes)
	mixed := s.DetectMixedMediaPattern()
	fmt.Fprintf(&b, "Grind: %t (%dm) %s\n", grind.Detected, grind.Duration, grind.Reason)
	if mixed.Detected {
		fmt.Fprintf(&b, "Mixed media: %s\n", mixed.Reason)
	} else {
		b.WriteString("Mixed media: not detected\n")
	}
	b.WriteString("Recent activity:\n")
	for _, a := range s.GetRecentActivity(limit) {
		b.WriteString("- " + a.String() + "\n")
	}
	return b.String()
}
