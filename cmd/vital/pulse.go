package main

import (
	"fmt"

	"github.com/nidhogg/vitalcore/internal/pulse"
	"github.com/spf13/cobra"
)

var pulseStartup bool

var pulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Run a single pulse beat and print the interventions that fire",
	Long: `Evaluates the hydration, posture and connection checks once against the
persisted knowledge graph, honoring cooldowns and mute preferences.
With --startup the long-absence consolidation check runs first.`,
	RunE: runPulse,
}

func init() {
	pulseCmd.Flags().BoolVar(&pulseStartup, "startup", false, "run the startup gap check first")
}

func runPulse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s := pulse.NewScheduler(a.graph, logger, a.pulseOptions()...)
	if pulseStartup && s.CheckStartupGap(cmd.Context()) {
		fmt.Println("startup gap exceeded: memories consolidated")
	}
	fired := s.Beat(cmd.Context())
	if len(fired) == 0 {
		fmt.Println("nothing to report")
		return nil
	}
	return printJSON(fired)
}
