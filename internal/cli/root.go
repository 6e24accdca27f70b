// Package cli provides the command-line interface for vcbench.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/config"
)

var (
	cfgFile  string
	tasksDir string
	verbose  bool
	cfg      *config.Config
	logger   *slog.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "vcbench",
	Short: "Benchmark harness for AI coding agents",
	Long: `vcbench runs AI coding agents against benchmark tasks and scores the result.

Each task is copied into a fresh workspace, the agent's code blocks are
written into it, the task's tests run (inside its compose project when one is
present) and the outcome is graded on functionality, visual fidelity, code
quality, cost and speed, with a security gate on top.

Features:
  - Agents for Anthropic, OpenAI-compatible vendors and Gemini
  - Parallel sweeps with weighted leaderboards
  - Attested results that can be verified later
  - Live progress reporting to the leaderboard`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if tasksDir != "" {
			cfg.Harness.TasksDir = tasksDir
		}

		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./vcbench.toml)")
	rootCmd.PersistentFlags().StringVar(&tasksDir, "tasks-dir", "", "external tasks directory (default: built-in tasks)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// Version information (set by build flags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vcbench version %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", BuildDate)
	},
}
