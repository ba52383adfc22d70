package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/feedback"
	"github.com/lambdazy/crowdom-sub001/internal/poolfile"
)

var asYAML bool

var resultsCmd = &cobra.Command{
	Use:   "results <pool.yaml>",
	Short: "Show aggregated results of a pool",
	Long: `Show the current results of the pool described by a definition file.

For a classification pool every task gets its most probable label, the
label's probability and the number of accepted answers it was computed from.
For a feedback definition every markup task lists its best solution, the
check verdict and why the task was finalized, if it was.

Results can be printed while loops are still running.`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().BoolVar(&asYAML, "yaml", false, "Print results as YAML")
}

// labelResult is the YAML form of one classification result.
type labelResult struct {
	Inputs       []string           `yaml:"inputs"`
	Label        string             `yaml:"label,omitempty"`
	Probability  float64            `yaml:"probability,omitempty"`
	Distribution map[string]float64 `yaml:"distribution,omitempty"`
	Answers      int                `yaml:"answers"`
}

// solutionResult is the YAML form of one markup solution.
type solutionResult struct {
	Answer     string  `yaml:"answer"`
	Worker     string  `yaml:"worker"`
	Verdict    string  `yaml:"verdict"`
	Confidence float64 `yaml:"confidence,omitempty"`
}

// markupResult is the YAML form of one markup task.
type markupResult struct {
	Inputs       []string         `yaml:"inputs"`
	Finalization string           `yaml:"finalization"`
	Solutions    []solutionResult `yaml:"solutions"`
}

func runResults(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if def.kind == poolfile.KindFeedback {
		loop, err := feedback.New(e.store, def.feedback, classification.WithLogger(e.log))
		if err != nil {
			return err
		}
		results, err := loop.Results(ctx)
		if err != nil {
			return err
		}
		return printMarkupResults(results)
	}

	loop, err := classification.New(e.store, def.classification, classification.WithLogger(e.log))
	if err != nil {
		return err
	}
	results, err := loop.Results(ctx)
	if err != nil {
		return err
	}
	return printLabelResults(results)
}

func printLabelResults(results []classification.TaskResult) error {
	if asYAML {
		out := make([]labelResult, len(results))
		for i, r := range results {
			label, p := r.Label()
			out[i] = labelResult{Inputs: r.Task.Inputs, Label: label, Probability: p, Distribution: r.Distribution, Answers: len(r.Votes)}
		}
		return yaml.NewEncoder(os.Stdout).Encode(out)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		label, p := r.Label()
		if label == "" {
			rows = append(rows, []string{"-", inputs(r.Task.Inputs), "", "0"})
			continue
		}
		rows = append(rows, []string{label, inputs(r.Task.Inputs), percent(p), strconv.Itoa(len(r.Votes))})
	}
	printTable([]string{"Label", "Task", "Probability", "Answers"}, rows)
	return nil
}

func printMarkupResults(results []feedback.TaskSolutions) error {
	if asYAML {
		out := make([]markupResult, len(results))
		for i, r := range results {
			m := markupResult{Inputs: r.Task.Inputs, Finalization: finalization(r.Finalization)}
			for _, a := range r.Solutions {
				s := solutionResult{Answer: a.Solution.Answer, Worker: a.WorkerID, Verdict: string(a.Verdict)}
				if a.Evaluation != nil {
					s.Confidence = a.Evaluation.Confidence
				}
				m.Solutions = append(m.Solutions, s)
			}
			out[i] = m
		}
		return yaml.NewEncoder(os.Stdout).Encode(out)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		best, ok := r.Best()
		if !ok {
			rows = append(rows, []string{"-", inputs(r.Task.Inputs), "", "", "0"})
			continue
		}
		confidence := ""
		if best.Evaluation != nil {
			confidence = percent(best.Evaluation.Confidence)
		}
		rows = append(rows, []string{
			finalization(r.Finalization),
			inputs(r.Task.Inputs),
			fmt.Sprintf("%s (%s)", best.Solution.Answer, best.Verdict),
			confidence,
			strconv.Itoa(len(r.Solutions)),
		})
	}
	printTable([]string{"Finalization", "Task", "Best answer", "Confidence", "Attempts"}, rows)
	return nil
}

func finalization(f feedback.Finalization) string {
	if f == feedback.NotFinalized {
		return "pending"
	}
	return string(f)
}
