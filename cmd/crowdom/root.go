package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lambdazy/crowdom-sub001/internal/config"
	"github.com/lambdazy/crowdom-sub001/internal/journal"
	"github.com/lambdazy/crowdom-sub001/internal/logging"
	"github.com/lambdazy/crowdom-sub001/internal/store"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "crowdom",
	Short: "Crowdsourcing quality control and aggregation",
	Long: `Crowdom drives labeling pools on a crowdsourcing store: it checks
submissions against control tasks, accepts, rejects and bonuses them,
blocks careless workers, raises task overlap until answers are confident
and aggregates the results.

Pools are described in YAML files. A classification pool labels tasks
directly; a feedback definition pairs a markup pool with a check pool that
verifies its answers.

Core capabilities:
- Static and dynamic overlap with four aggregation algorithms
- Speed and accuracy control rules with restrictions and bonuses
- Markup/check feedback loops with attempt finalization
- Run journal and cron-scheduled iterations`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write the debug log to stderr as well")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(weightsCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(qualityConfigCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// env holds what every command that touches the store needs.
type env struct {
	cfg     *config.Config
	store   *store.DB
	journal *journal.Journal
	log     *logging.Logger
}

// openEnv loads the configuration and opens the store, the journal and the debug log.
// Relative paths resolve against the directory holding the project config.
func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	root := projectRoot()

	e := &env{cfg: cfg}
	if verbose {
		e.log = logging.NewWriter(os.Stderr)
	} else if e.log, err = logging.New(resolve(root, cfg.Log.Path)); err != nil {
		return nil, err
	}

	e.store, err = store.Open(resolve(root, cfg.Store.Path))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := e.store.Migrate(); err != nil {
		e.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	e.journal, err = journal.Open(resolve(root, cfg.Journal.Path))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return e, nil
}

// Close releases everything openEnv opened.
func (e *env) Close() {
	if e.journal != nil {
		e.journal.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.log != nil {
		e.log.Close()
	}
}

// signalsDir returns the resolved signal-file directory.
func (e *env) signalsDir() string {
	return resolve(projectRoot(), e.cfg.Signals.Dir)
}

// projectRoot is the directory of the nearest .crowdom.yaml, or the working directory.
func projectRoot() string {
	if p := config.GetProjectConfigPath(); p != "" {
		return filepath.Dir(p)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
