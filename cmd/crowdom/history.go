package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lambdazy/crowdom-sub001/internal/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent runs or the iterations of one run",
	Long: `Without arguments, list the most recent loop runs from the journal.
With a run ID, or a unique prefix of one, list that run's iterations.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	if len(args) == 0 {
		runs, err := e.journal.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			status := r.Status
			if r.Error != "" {
				status += ": " + r.Error
			}
			rows = append(rows, []string{
				r.ID[:8],
				r.Kind,
				strings.Join(r.Pools, ", "),
				status,
				strconv.Itoa(r.Iterations),
				r.StartedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		printTable([]string{"Run", "Kind", "Pools", "Status", "Iterations", "Started"}, rows)
		return nil
	}

	run, err := findRun(cmd, e.journal, args[0])
	if err != nil {
		return err
	}
	its, err := e.journal.Iterations(ctx, run.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s (%s %s): %s\n", run.ID, run.Kind, strings.Join(run.Pools, ", "), run.Status)
	rows := make([][]string, 0, len(its))
	for _, it := range its {
		closed := ""
		if it.Closed {
			closed = "closed"
		}
		rows = append(rows, []string{
			strconv.Itoa(it.Iteration),
			it.Loop + " " + it.PoolID,
			strconv.Itoa(it.Fetched),
			fmt.Sprintf("%d/%d", it.Accepted, it.Rejected),
			strconv.Itoa(it.Filtered),
			strconv.Itoa(it.Restricted),
			strconv.Itoa(it.Bonuses),
			strconv.Itoa(it.Raised),
			strconv.Itoa(it.Finalized),
			closed,
		})
	}
	printTable([]string{"#", "Pool", "Fetched", "Acc/Rej", "Filtered", "Restricted", "Bonuses", "Raised", "Final", ""}, rows)
	return nil
}

// findRun resolves a full run ID or a unique prefix of one.
func findRun(cmd *cobra.Command, j *journal.Journal, id string) (*journal.Run, error) {
	if run, err := j.GetRun(cmd.Context(), id); err == nil && run != nil {
		return run, nil
	}
	runs, err := j.Runs(cmd.Context(), 1000)
	if err != nil {
		return nil, err
	}
	var match *journal.Run
	for i := range runs {
		if strings.HasPrefix(runs[i].ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run prefix %q is ambiguous", id)
			}
			match = &runs[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no run %q", id)
	}
	return match, nil
}
