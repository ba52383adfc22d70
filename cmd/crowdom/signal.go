package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lambdazy/crowdom-sub001/internal/config"
	"github.com/lambdazy/crowdom-sub001/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:   "signal <pause|resume|stop|clear>",
	Short: "Pause, resume or stop running loops",
	Long: `Control loops started by "crowdom run" or "crowdom schedule" in this
project through the signal files they watch.

  pause   loops finish their current iteration and wait
  resume  paused loops continue
  stop    loops finish their current iteration and exit
  clear   remove every signal file`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pause", "resume", "stop", "clear"},
	RunE:      runSignal,
}

func runSignal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir := resolve(projectRoot(), cfg.Signals.Dir)

	switch args[0] {
	case "pause":
		err = signals.Send(dir, signals.PauseFile)
	case "resume":
		err = os.Remove(filepath.Join(dir, signals.PauseFile))
		if os.IsNotExist(err) {
			printStatus("-", "Loops are not paused", color.FgYellow)
			return nil
		}
	case "stop":
		err = signals.Send(dir, signals.StopFile)
	case "clear":
		signals.Clear(dir)
	default:
		return fmt.Errorf("unknown signal %q", args[0])
	}
	if err != nil {
		return err
	}
	printStatus("✓", "Sent "+args[0], color.FgGreen)
	return nil
}
