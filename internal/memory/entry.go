// Package memory is the episodic Memory Store: raw logs are distilled into
// structured entries, indexed for semantic recall and handed to the
// knowledge graph.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one recorded, timestamped behavioral observation.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Scene     string    `json:"scene" desc:"Contextual scene, e.g. 'Late night coding'"`
	Statement string    `json:"statement" desc:"The core event or signal detected"`
	Entities  []string  `json:"entities" desc:"Key entities extracted, e.g. ['Insomnia', 'Heart Rate']"`
	UserState string    `json:"user_state" desc:"Inferred emotional or physical state"`
	Outcome   string    `json:"outcome" desc:"The action taken or advice given"`
	Remarks   string    `json:"remarks,omitempty" desc:"Meta-analysis or additional notes"`
}

// IndexText is the text embedded for semantic recall.
func (e Entry) IndexText() string {
	return fmt.Sprintf("%s: %s. Result: %s", e.Scene, e.Statement, e.Outcome)
}

// String renders the entry for prompt context.
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Timestamp.Format(time.RFC3339), e.Statement)
	if e.Scene != "" {
		fmt.Fprintf(&b, " (scene: %s)", e.Scene)
	}
	if e.UserState != "" {
		fmt.Fprintf(&b, " state=%s", e.UserState)
	}
	if e.Outcome != "" {
		fmt.Fprintf(&b, " outcome=%s", e.Outcome)
	}
	return b.String()
}
