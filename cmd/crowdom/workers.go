package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List worker restrictions and bonuses",
	Long: `List the restrictions and bonuses the loops issued in the local store.
Expired restrictions are dimmed.`,
	Args: cobra.NoArgs,
	RunE: runWorkers,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	restrictions, err := e.store.Restrictions(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	rows := make([][]string, 0, len(restrictions))
	for _, r := range restrictions {
		until := "permanent"
		worker := r.WorkerID
		if r.ExpiresAt != nil {
			until = r.ExpiresAt.Local().Format("2006-01-02 15:04")
			if r.ExpiresAt.Before(now) {
				worker = "-" + worker
			}
		}
		scope := string(r.Scope)
		if r.PoolID != "" {
			scope += " " + r.PoolID
		}
		rows = append(rows, []string{worker, scope, until, r.Comment})
	}
	fmt.Println("Restrictions")
	printTable([]string{"Worker", "Scope", "Until", "Comment"}, rows)

	bonuses, err := e.store.Bonuses(ctx)
	if err != nil {
		return err
	}
	totals := make(map[string]float64)
	counts := make(map[string]int)
	for _, b := range bonuses {
		totals[b.WorkerID] += b.Amount
		counts[b.WorkerID]++
	}
	rows = rows[:0]
	for _, w := range sortedWorkers(totals) {
		rows = append(rows, []string{w, fmt.Sprintf("%d", counts[w]), fmt.Sprintf("%.2f", totals[w])})
	}
	fmt.Println("\nBonuses")
	printTable([]string{"Worker", "Bonuses", "Total"}, rows)
	return nil
}
