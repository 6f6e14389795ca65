package classify

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Category names an activity class shared by every detector.
type Category string

const (
	Sedentary     Category = "sedentary"
	Work          Category = "work"
	Entertainment Category = "entertainment"
	Hydration     Category = "hydration"
)

// Classifier decides whether a piece of text belongs to a category.
type Classifier interface {
	Match(cat Category, text string) bool
}

// Rules is the on-disk keyword table.
type Rules struct {
	Categories map[Category][]string `yaml:"categories"`
}

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// DefaultRules returns the built-in keyword table.
func DefaultRules() Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("classify: embedded rules: %v", err))
	}
	return r
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	if len(r.Categories) == 0 {
		return Rules{}, fmt.Errorf("parse rules: no categories defined")
	}
	return r, nil
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// KeywordClassifier matches categories by case-insensitive keyword search.
// A keyword must begin at a word boundary, so "debug" matches "Debugging"
// but "git" does not match "digital". It is safe for concurrent use and can be swapped at runtime by Replace.
type KeywordClassifier struct {
	mu       sync.RWMutex
	patterns map[Category]*regexp.Regexp
}

// New compiles a classifier from rules.
func New(rules Rules) (*KeywordClassifier, error) {
	c := &KeywordClassifier{}
	if err := c.Replace(rules); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns a classifier over DefaultRules.
func Default() *KeywordClassifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("classify: default rules: %v", err))
	}
	return c
}

// Replace atomically swaps the keyword table.
func (c *KeywordClassifier) Replace(rules Rules) error {
	patterns := make(map[Category]*regexp.Regexp, len(rules.Categories))
	for cat, words := range rules.Categories {
		var quoted []string
		for _, w := range words {
			w = strings.TrimSpace(strings.ToLower(w))
			if w == "" {
				continue
			}
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
		if len(quoted) == 0 {
			continue
		}
		re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)`)
		if err != nil {
			return fmt.Errorf("compile category %s: %w", cat, err)
		}
		patterns[cat] = re
	}

	c.mu.Lock()
	c.patterns = patterns
	c.mu.Unlock()
	return nil
}

// Match reports whether text contains any keyword of cat.
func (c *KeywordClassifier) Match(cat Category, text string) bool {
	c.mu.RLock()
	re, ok := c.patterns[cat]
	c.mu.RUnlock()
	if !ok || text == "" {
		return false
	}
	return re.MatchString(strings.ToLower(text))
}

// Categories lists the configured categories in name order.
func (c *KeywordClassifier) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Category, 0, len(c.patterns))
	for cat := range c.patterns {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
