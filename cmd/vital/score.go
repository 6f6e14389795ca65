package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nidhogg/vitalcore/internal/risk"
	"github.com/spf13/cobra"
)

var (
	scoreDuration int
	scoreCouncil  bool
	grindLimit    int
)

var scoreCmd = &cobra.Command{
	Use:   "score [text]",
	Short: "Score a behavioral log with the risk engine",
	Long: `Scores the text with the deterministic keyword and duration rules.
With --council the full triage, expert and synthesis workflow runs and the
resulting action plan is printed instead.

Example:
  vital score "Coding for 5 hours, severe headache" --duration 300`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScore,
}

var grindCmd = &cobra.Command{
	Use:   "grind",
	Short: "Report grind and mixed-media patterns from the knowledge graph",
	RunE:  runGrind,
}

func init() {
	scoreCmd.Flags().IntVarP(&scoreDuration, "duration", "d", -1, "activity duration in minutes (default: parsed from text)")
	scoreCmd.Flags().BoolVar(&scoreCouncil, "council", false, "run the full council workflow")
	grindCmd.Flags().IntVarP(&grindLimit, "limit", "n", 5, "recent activity lines to show")
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	text := strings.Join(args, " ")
	duration := scoreDuration
	if duration < 0 {
		duration, _ = risk.ExtractDuration(text)
	}

	if scoreCouncil {
		plan, state, err := a.council.Run(cmd.Context(), text, "cli", duration)
		if err != nil {
			return err
		}
		for _, line := range state.Log {
			fmt.Fprintln(os.Stderr, line)
		}
		return printJSON(plan)
	}
	return printJSON(a.risk.CalculateDeterministicRisk(text, duration))
}

func runGrind(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Print(a.graph.Describe(cfg.Graph.GrindThresholdMinutes, grindLimit))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
