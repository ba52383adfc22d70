package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/poolfile"
)

var weightsCmd = &cobra.Command{
	Use:   "weights <pool.yaml>",
	Short: "Show worker accuracy in a pool",
	Long: `Show every worker's accuracy on control tasks across all of their
submissions to a classification pool. These are the weights aggregation uses.
For a feedback definition the check pool is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: runWeights,
}

func init() {
	weightsCmd.Flags().BoolVar(&asYAML, "yaml", false, "Print weights as YAML")
}

func runWeights(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	cfg := def.classification
	label := "classification"
	if def.kind == poolfile.KindFeedback {
		cfg = def.feedback.Check
		label = "check"
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	loop, err := classification.New(e.store, cfg, classification.WithLogger(e.log), classification.WithLabel(label))
	if err != nil {
		return err
	}
	weights, err := loop.WorkerWeights(cmd.Context())
	if err != nil {
		return err
	}
	if asYAML {
		return yaml.NewEncoder(os.Stdout).Encode(weights)
	}

	fmt.Printf("Pool %s\n", cfg.PoolID)
	rows := make([][]string, 0, len(weights))
	for _, w := range sortedWorkers(weights) {
		rows = append(rows, []string{w, percent(weights[w])})
	}
	printTable([]string{"Worker", "Accuracy"}, rows)
	return nil
}

// sortedWorkers returns the keys of weights, best first.
func sortedWorkers(weights map[string]float64) []string {
	workers := make([]string, 0, len(weights))
	for w := range weights {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		if weights[workers[i]] != weights[workers[j]] {
			return weights[workers[i]] > weights[workers[j]]
		}
		return workers[i] < workers[j]
	})
	return workers
}
