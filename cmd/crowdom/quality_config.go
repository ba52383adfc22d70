package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lambdazy/crowdom-sub001/internal/poolfile"
)

var qualityTasksPerAssignment int

var qualityConfigCmd = &cobra.Command{
	Use:   "quality-config <pool.yaml>",
	Short: "Print the store-native quality rules of a pool",
	Long: `Translate the block rules of a pool into fast-submit and golden-set
rules a crowdsourcing platform can enforce on its own, and print them as
YAML. For a feedback definition the check pool is translated.

Fast-submit thresholds scale with the expected assignment duration, which is
the task duration hint times --tasks-per-assignment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := loadDefinition(args[0])
		if err != nil {
			return err
		}
		cfg := def.classification
		if def.kind == poolfile.KindFeedback {
			cfg = def.feedback.Check
		}
		hint := cfg.TaskDurationHint * time.Duration(qualityTasksPerAssignment)
		qc, err := cfg.Control.CompileQualityConfig(len(cfg.ControlTasks), hint)
		if err != nil {
			return err
		}
		return yaml.NewEncoder(os.Stdout).Encode(qc)
	},
}

func init() {
	qualityConfigCmd.Flags().IntVar(&qualityTasksPerAssignment, "tasks-per-assignment", 1, "Tasks in one assignment")
}
