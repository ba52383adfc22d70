package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lambdazy/crowdom-sub001/internal/store"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// submissionEntry is one submission in a submissions file.
type submissionEntry struct {
	Worker      string    `yaml:"worker"`
	StartedAt   time.Time `yaml:"started_at"`
	SubmittedAt time.Time `yaml:"submitted_at"`
	// Duration stands in for started_at.
	Duration time.Duration `yaml:"duration"`
	Items    []models.Item `yaml:"items"`
}

var submitCmd = &cobra.Command{
	Use:   "submit <pool> <submissions.yaml>",
	Short: "Load worker submissions into a pool",
	Long: `Load completed worker submissions into a pool of the local store.

The file holds a list of submissions:

  - worker: w-17
    submitted_at: 2026-01-02T15:04:05Z
    duration: 45s
    items:
      - task: {inputs: [https://example.com/img/1.jpg]}
        answer: cat
      - task: {inputs: [https://example.com/img/2.jpg]}
        skipped: true

submitted_at defaults to now; either started_at or duration is required.
Submissions of restricted workers are skipped with a warning.`,
	Args: cobra.ExactArgs(2),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	pool, path := args[0], args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var entries []submissionEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
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

	now := time.Now()
	added, skipped := 0, 0
	for i, entry := range entries {
		sub, err := entry.submission(pool, now)
		if err != nil {
			return fmt.Errorf("%s: submission %d: %w", path, i+1, err)
		}
		if _, err := e.store.AddSubmission(ctx, sub); err != nil {
			if errors.Is(err, store.ErrWorkerRestricted) {
				printStatus("!", fmt.Sprintf("worker %s is restricted, submission %d skipped", entry.Worker, i+1), color.FgYellow)
				skipped++
				continue
			}
			return err
		}
		added++
	}
	printStatus("✓", fmt.Sprintf("Added %d submission(s) to %s", added, pool), color.FgGreen)
	if skipped > 0 {
		printStatus("!", fmt.Sprintf("%d skipped", skipped), color.FgYellow)
	}
	return nil
}

func (s submissionEntry) submission(pool string, now time.Time) (models.Submission, error) {
	if s.Worker == "" {
		return models.Submission{}, errors.New("worker is required")
	}
	if len(s.Items) == 0 {
		return models.Submission{}, errors.New("no items")
	}
	submitted := s.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}
	started := s.StartedAt
	if started.IsZero() {
		if s.Duration <= 0 {
			return models.Submission{}, errors.New("started_at or duration is required")
		}
		started = submitted.Add(-s.Duration)
	}
	if started.After(submitted) {
		return models.Submission{}, errors.New("started_at is after submitted_at")
	}
	return models.Submission{
		PoolID:      pool,
		WorkerID:    s.Worker,
		Items:       s.Items,
		StartedAt:   started,
		SubmittedAt: submitted,
		Status:      models.StatusSubmitted,
	}, nil
}
