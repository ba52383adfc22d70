package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lambdazy/crowdom-sub001/internal/driver"
)

var scheduleSpec string

var scheduleCmd = &cobra.Command{
	Use:   "schedule <pool.yaml>...",
	Short: "Step pools on a cron schedule",
	Long: `Set up the given pools, then run one iteration of every loop per tick
of a cron schedule until all pools are closed.

The schedule is a standard five-field cron expression or a descriptor such
as "@every 5m" or "@hourly"; it defaults to driver.schedule. A tick is
skipped for a loop whose previous iteration is still running, and while the
pause signal is present. A failing loop is unscheduled and reported; the
others keep running.

Examples:
  crowdom schedule pool.yaml
  crowdom schedule pool.yaml feedback.yaml --every "*/10 * * * *"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleSpec, "every", "", "Cron schedule (default driver.schedule)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	defs, err := loadDefinitions(args)
	if err != nil {
		return err
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	spec := e.cfg.Driver.Schedule
	if scheduleSpec != "" {
		spec = scheduleSpec
	}
	sched, err := driver.ParseSchedule(spec)
	if err != nil {
		return err
	}

	ctx, cancel := interruptible(cmd.Context())
	defer cancel()

	pause, stopWatching, err := e.watchSignals()
	if err != nil {
		return err
	}
	defer stopWatching()

	// the loops are stepped one iteration at a time, so they take no pause controller
	jobs, err := e.jobs(ctx, defs, nil)
	if err != nil {
		return err
	}

	d := driver.New(e.journal, driver.WithLogger(e.log), driver.WithPauseController(pause))
	fmt.Printf("Scheduling %d loop(s) %s...\n", len(jobs), spec)
	return reportOutcome(d.RunScheduled(ctx, sched, jobs))
}
