package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lambdazy/crowdom-sub001/internal/config"
	"github.com/lambdazy/crowdom-sub001/internal/poolfile"
	"github.com/lambdazy/crowdom-sub001/internal/store"
)

var (
	initForce       bool
	initNoGitignore bool
	initNoExamples  bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a crowdom project",
	Long: `Initialize a directory for use with crowdom.

This command:
  - Creates the .crowdom directory with the store, journal and logs
  - Writes a .crowdom.yaml project config with the defaults
  - Writes example pool.yaml and feedback.yaml definitions
  - Adds the local databases to .gitignore

The directory argument is optional and defaults to the current directory.

Examples:
  crowdom init                # Initialize current directory
  crowdom init ./labeling     # Initialize specific directory
  crowdom init --force        # Rewrite config and examples
  crowdom init --no-examples  # Skip example pool definitions`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGitignore, "no-gitignore", false, "Leave .gitignore untouched")
	initCmd.Flags().BoolVar(&initNoExamples, "no-examples", false, "Do not write example pool definitions")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing crowdom in %s...\n\n", absPath)

	configPath := filepath.Join(absPath, ".crowdom.yaml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		fmt.Printf("Directory already initialized. Use --force to reinitialize.\n")
		return nil
	}

	for _, dir := range []string{"logs", "signals"} {
		if err := os.MkdirAll(filepath.Join(absPath, ".crowdom", dir), 0755); err != nil {
			return fmt.Errorf("creating .crowdom/%s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .crowdom directory", color.FgGreen)

	cfg := config.Default()
	if err := config.SaveTo(cfg, configPath); err != nil {
		return fmt.Errorf("writing project config: %w", err)
	}
	printStatus("✓", "Created .crowdom.yaml", color.FgGreen)

	db, err := store.Open(filepath.Join(absPath, cfg.Store.Path))
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	printStatus("✓", "Created store at "+cfg.Store.Path, color.FgGreen)

	if !initNoExamples {
		examples := map[string]any{
			"pool.yaml":     poolfile.Example(),
			"feedback.yaml": poolfile.ExampleFeedback(),
		}
		for _, name := range []string{"pool.yaml", "feedback.yaml"} {
			path := filepath.Join(absPath, name)
			if _, err := os.Stat(path); err == nil && !initForce {
				printStatus("-", name+" exists, left as is", color.FgYellow)
				continue
			}
			if err := poolfile.Write(path, examples[name]); err != nil {
				return fmt.Errorf("writing %s: %w", name, err)
			}
			printStatus("✓", "Created example "+name, color.FgGreen)
		}
	}

	if !initNoGitignore {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with crowdom entries", color.FgGreen)
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  crowdom run pool.yaml            # drive a classification pool")
	fmt.Println("  crowdom run feedback.yaml        # drive a markup/check pair")
	fmt.Println("  crowdom submit animals subs.yaml # load worker submissions")
	return nil
}

func updateGitignore(root string) error {
	gitignorePath := filepath.Join(root, ".gitignore")

	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	entries := []string{
		".crowdom/*.db*",
		".crowdom/logs/",
		".crowdom/signals/",
	}
	var missing []string
	for _, entry := range entries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# crowdom\n")
	for _, entry := range missing {
		b.WriteString(entry + "\n")
	}
	return os.WriteFile(gitignorePath, []byte(b.String()), 0644)
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
