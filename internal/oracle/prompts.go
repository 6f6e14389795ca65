package oracle

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed prompts.toml
var defaultPrompts []byte

// Prompts holds every persona and task prompt.
type Prompts struct {
	Council struct {
		Triage      string `toml:"triage"`
		Doctor      string `toml:"doctor"`
		Coach       string `toml:"coach"`
		Synthesizer string `toml:"synthesizer"`
	} `toml:"council"`
	Liaison struct {
		System string `toml:"system"`
	} `toml:"liaison"`
	Graph struct {
		Enrichment string `toml:"enrichment"`
	} `toml:"graph"`
	Memory struct {
		Extraction    string `toml:"extraction"`
		Consolidation string `toml:"consolidation"`
	} `toml:"memory"`
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() *Prompts {
	p, err := parsePrompts(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("oracle: embedded prompts: %v", err))
	}
	return p
}

// LoadPrompts reads a TOML prompt file; empty entries keep their defaults.
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts %s: %w", path, err)
	}
	p := DefaultPrompts()
	var override Prompts
	if err := toml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	keep(&p.Council.Triage, override.Council.Triage)
	keep(&p.Council.Doctor, override.Council.Doctor)
	keep(&p.Council.Coach, override.Council.Coach)
	keep(&p.Council.Synthesizer, override.Council.Synthesizer)
	keep(&p.Liaison.System, override.Liaison.System)
	keep(&p.Graph.Enrichment, override.Graph.Enrichment)
	keep(&p.Memory.Extraction, override.Memory.Extraction)
	keep(&p.Memory.Consolidation, override.Memory.Consolidation)
	return p, nil
}

func parsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func keep(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// Render substitutes {{key}} placeholders.
func Render(tmpl string, vars map[string]string) string {
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
