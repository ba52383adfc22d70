package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lambdazy/crowdom-sub001/internal/config"
)

var configProject bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify crowdom configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/crowdom/config.yaml
Project-specific overrides can be placed in .crowdom.yaml (--project)
Environment variables override both, e.g. CROWDOM_LOOP_POLL_INTERVAL=10s`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		switch len(args) {
		case 0:
			for _, key := range config.Keys() {
				value, _ := config.Get(cfg, key)
				fmt.Printf("%s: %s\n", key, value)
			}
			return nil
		case 1:
			value, err := config.Get(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

func init() {
	configCmd.Flags().BoolVar(&configProject, "project", false, "Write to the project's .crowdom.yaml instead of the user config")
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := config.Set(cfg, key, value); err != nil {
		return err
	}

	if configProject {
		path := config.GetProjectConfigPath()
		if path == "" {
			fmt.Fprintln(os.Stderr, "No .crowdom.yaml found; run 'crowdom init' first.")
			return fmt.Errorf("no project config")
		}
		if err := config.SaveTo(cfg, path); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
	} else if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}
