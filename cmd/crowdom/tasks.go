package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

var tasksOverlap int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect or extend the tasks of a pool",
}

var tasksListCmd = &cobra.Command{
	Use:   "list <pool>",
	Short: "List the tasks of a pool with their requested overlap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		tasks, err := e.store.PoolTasks(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(tasks))
		for _, pt := range tasks {
			overlap := strconv.Itoa(pt.Overlap)
			if pt.Overlap == 0 {
				// control tasks never keep a pool open
				overlap = "-"
			}
			rows = append(rows, []string{inputs(pt.Task.Inputs), overlap, pt.Task.ID()[:12]})
		}
		printTable([]string{"Task", "Overlap", "ID"}, rows)
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <pool> <tasks.yaml>",
	Short: "Add tasks to a pool",
	Long: `Add tasks to a pool of the local store. The file holds a list of input
tuples, one per task:

  - [https://example.com/img/3.jpg]
  - [https://example.com/img/4.jpg]

Known tasks keep the larger of their current and the given overlap. A running
classification loop picks new tasks up on its next iteration.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, path := args[0], args[1]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var in [][]string
		if err := yaml.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if tasksOverlap < 1 {
			return fmt.Errorf("overlap must be positive, got %d", tasksOverlap)
		}
		tasks := make([]models.Task, 0, len(in))
		for _, inputs := range in {
			if len(inputs) == 0 {
				return fmt.Errorf("%s: task without inputs", path)
			}
			tasks = append(tasks, models.NewTask(inputs...))
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		ctx := cmd.Context()
		if err := e.store.CreatePool(ctx, pool); err != nil {
			return err
		}
		if err := e.store.AddTasks(ctx, pool, tasks, tasksOverlap); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Added %d task(s) to %s", len(tasks), pool), color.FgGreen)
		return nil
	},
}

func init() {
	tasksAddCmd.Flags().IntVar(&tasksOverlap, "overlap", 1, "Answers to request per task")
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
}
