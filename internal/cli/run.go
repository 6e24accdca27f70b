package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/agent"
	"github.com/vibecodingbench/vcbench/internal/result"
)

var (
	runAgent    string
	runTimeout  int
	runOutput   string
	runNoDocker bool
	runLive     bool
	runRecord   bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run one agent on one task",
	Long: `Creates a fresh workspace for the task, lets the agent work on it, runs the
task's tests and scores the outcome. The result is saved under the results
directory and the workspace is removed afterwards.

Examples:
  vcbench run todo-api --agent claude
  vcbench run csv-to-json --agent mock --no-docker
  vcbench run api/rest/todo-api --agent openai --live --record`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if runAgent == "" {
			return fmt.Errorf("--agent is required (available: %s)", joinNames(cfg.ListAgents()))
		}

		h := newHarness(cfg, harnessOptions{
			Timeout:  time.Duration(runTimeout) * time.Second,
			NoDocker: runNoDocker,
			Live:     runLive,
		}, logger)
		defer func() { _ = h.Close() }()

		t, err := h.loader.Load(args[0])
		if err != nil {
			return err
		}
		a, err := h.agents.FromConfig(cfg, runAgent)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("\n Running %s on %s ...\n", a.Name(), t.ID)
		run := h.runTask(ctx, t, a, runRecord, printProgress)

		fmt.Print(result.FormatTerminal(run))
		outputDir := runOutput
		if outputDir == "" {
			outputDir = cfg.Harness.ResultsDir
		}
		if err := run.Save(outputDir); err != nil {
			return fmt.Errorf("saving result: %w", err)
		}
		fmt.Printf(" Result saved to: %s\n\n", run.Dir(outputDir))

		if ctx.Err() != nil {
			return nil // Graceful shutdown
		}
		if !run.Passed() {
			return &exitError{code: 1}
		}
		return nil
	},
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nReceived interrupt, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// printProgress echoes tool use and errors while an agent works.
func printProgress(ev agent.Event) {
	switch ev.Type {
	case agent.EventToolUse:
		fmt.Printf("   → %s\n", ev.Message)
	case agent.EventError:
		fmt.Printf("   ✗ %s\n", ev.Message)
	}
}

// exitError is a sentinel error for non-zero exit codes.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func init() {
	runCmd.Flags().StringVarP(&runAgent, "agent", "a", "", "agent to run (see 'vcbench list --agents')")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "agent timeout in seconds (default from task)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "results directory (default from config)")
	runCmd.Flags().BoolVar(&runNoDocker, "no-docker", false, "skip the compose test harness")
	runCmd.Flags().BoolVar(&runLive, "live", false, "stream progress to the leaderboard live API")
	runCmd.Flags().BoolVar(&runRecord, "record", false, "save the agent's event transcript")
}
