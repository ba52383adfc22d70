package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lambdazy/crowdom-sub001/internal/driver"
	"github.com/lambdazy/crowdom-sub001/internal/journal"
	"github.com/lambdazy/crowdom-sub001/internal/signals"
)

var runParallelism int

var runCmd = &cobra.Command{
	Use:   "run <pool.yaml>...",
	Short: "Drive pools until they close",
	Long: `Run the loops of one or more pool definitions until every pool is
closed. Classification and feedback definitions may be mixed; the kind is
detected from the file.

Each loop iterates on its own, sleeping loop.poll_interval when an iteration
found nothing new. The first failing loop cancels the others.

Create .crowdom/signals/pause to pause the loops between iterations, remove
it to resume, or create .crowdom/signals/stop to stop them ("crowdom signal").

Examples:
  crowdom run pool.yaml
  crowdom run pool.yaml feedback.yaml --parallelism 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runParallelism, "parallelism", 0, "Loops to run at once (default driver.parallelism)")
}

func runRun(cmd *cobra.Command, args []string) error {
	defs, err := loadDefinitions(args)
	if err != nil {
		return err
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := interruptible(cmd.Context())
	defer cancel()

	pause, stopWatching, err := e.watchSignals()
	if err != nil {
		return err
	}
	defer stopWatching()

	jobs, err := e.jobs(ctx, defs, pause)
	if err != nil {
		return err
	}

	parallelism := e.cfg.Driver.Parallelism
	if runParallelism > 0 {
		parallelism = runParallelism
	}
	d := driver.New(e.journal,
		driver.WithLogger(e.log),
		driver.WithPauseController(pause),
		driver.WithParallelism(parallelism),
	)

	fmt.Printf("Running %d loop(s)...\n", len(jobs))
	err = d.RunAll(ctx, jobs)
	return reportOutcome(err)
}

// reportOutcome prints how a run ended and turns stops into a clean exit.
func reportOutcome(err error) error {
	switch {
	case err == nil:
		printStatus("✓", "All pools closed", color.FgGreen)
		return nil
	case errors.Is(err, signals.ErrStopped):
		printStatus("■", "Stopped by signal", color.FgYellow)
		return nil
	case driver.Status(err) == journal.StatusCanceled:
		printStatus("■", "Interrupted", color.FgYellow)
		return nil
	default:
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}
}
