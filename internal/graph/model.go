// Package graph maintains the persistent temporal knowledge graph of memory
// and entity nodes and runs the pattern detectors over it.
package graph

import (
	"strings"
	"time"
)

// Node kinds.
const (
	KindMemory = "memory"
	KindEntity = "entity"
)

// Edge relations maintained by the service itself. Enrichment may add
// others (CAUSES, RELATED_TO, PART_OF, FOLLOWED_BY, INTERRUPTS).
const (
	RelMentions = "MENTIONS"
	RelNext     = "NEXT"
)

// Node is a memory or entity vertex.
type Node struct {
	ID        string     `json:"id"`
	Kind      string     `json:"type"`
	Class     string     `json:"class,omitempty"`
	Label     string     `json:"label,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Statement string     `json:"statement,omitempty"`
	Scene     string     `json:"scene,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	UserState string     `json:"user_state,omitempty"`
}

func (n *Node) time() time.Time {
	if n.Timestamp == nil {
		return time.Time{}
	}
	return *n.Timestamp
}

// Edge is a directed link.
type Edge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Relation     string  `json:"relation"`
	DeltaMinutes float64 `json:"delta_minutes,omitempty"`
}

// Document is the node-link serialization of the graph.
type Document struct {
	Directed   bool           `json:"directed"`
	Multigraph bool           `json:"multigraph"`
	Graph      map[string]any `json:"graph"`
	Nodes      []Node         `json:"nodes"`
	Links      []Edge         `json:"links"`
}

// EntityID normalizes a label so repeated mentions share one node.
func EntityID(label string) string {
	return "ent_" + strings.Join(strings.Fields(strings.ToLower(label)), "_")
}

// PatternResult is the outcome of a detector.
type PatternResult struct {
	Detected      bool     `json:"detected"`
	Duration      int      `json:"duration,omitempty"`
	Reason        string   `json:"reason"`
	InvolvedNodes []string `json:"involved_nodes"`
}

// Activity is one line of recent history.
type Activity struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Statement string    `json:"statement"`
	Duration  string    `json:"duration"`
	Entities  []string  `json:"entities"`
}

// String renders the activity for prompts and chat.
func (a Activity) String() string {
	s := a.Timestamp.Format("15:04") + " " + a.Statement + " (" + a.Duration + ")"
	if len(a.Entities) > 0 {
		s += " [" + strings.Join(a.Entities, ", ") + "]"
	}
	return s
}
