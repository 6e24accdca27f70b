package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/result"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <run-dir|sweep-dir>",
	Short: "Display saved results",
	Long: `Shows a saved run (a directory holding result.json) or a sweep (a directory
holding summary.json).

Example:
  vcbench show results/claude-api-rest-2026-01-30T143022-ab12cd34
  vcbench show results/eval-2026-01-30T143022 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		if _, err := os.Stat(filepath.Join(dir, "summary.json")); err == nil {
			s, err := result.LoadSummary(dir)
			if err != nil {
				return err
			}
			if showJSON {
				return outputJSON(os.Stdout, s)
			}
			displaySummary(os.Stdout, s, dir)
			return nil
		}

		run, err := result.LoadRun(filepath.Join(dir, "result.json"))
		if err != nil {
			return fmt.Errorf("reading run: %w", err)
		}
		if showJSON {
			return outputJSON(os.Stdout, run)
		}
		displayRun(os.Stdout, run, dir)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
}

func displayRun(w io.Writer, run *result.Run, path string) {
	printBanner(w, " RUN: "+run.ID)

	fmt.Fprintf(w, " Status:    %s %s\n", result.StatusEmoji[run.Status], strings.ToUpper(string(run.Status)))
	fmt.Fprintf(w, " Task:      %s (%s, %s)\n", run.TaskID, run.Category, run.Difficulty)
	agentLine := run.Agent
	if run.Model != "" {
		agentLine += " (" + run.Model + ")"
	}
	fmt.Fprintf(w, " Agent:     %s\n", agentLine)
	fmt.Fprintf(w, " Duration:  %s\n", run.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(w, " Started:   %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, " Completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	if run.Error != "" {
		fmt.Fprintf(w, " Error:     %s\n", run.Error)
	}
	fmt.Fprintln(w)

	if s := run.Scores; s != nil {
		fmt.Fprintln(w, " ─────────────────────────────────────────────────────────")
		fmt.Fprintln(w, " SCORES")
		fmt.Fprintln(w, " ─────────────────────────────────────────────────────────")
		fmt.Fprintf(w, " Functional %5.1f   Visual %5.1f   Quality %5.1f\n", s.Functional, s.Visual, s.Quality)
		fmt.Fprintf(w, " Cost       %5.1f   Speed  %5.1f   Final   %5.1f\n", s.Cost, s.Speed, s.Final)
		if s.Security.Passed {
			fmt.Fprintln(w, " Security   passed")
		} else {
			fmt.Fprintln(w, " Security   FAILED")
		}
		for _, issue := range s.Security.Issues {
			fmt.Fprintf(w, "   • %s\n", issue)
		}
		fmt.Fprintln(w)
	}

	if e := run.Execution; e != nil {
		fmt.Fprintln(w, " ─────────────────────────────────────────────────────────")
		fmt.Fprintln(w, " EXECUTION")
		fmt.Fprintln(w, " ─────────────────────────────────────────────────────────")
		fmt.Fprintf(w, " Tokens:    %d (in %d / out %d)\n", e.Metrics.TotalTokens, e.Metrics.InputTokens, e.Metrics.OutputTokens)
		fmt.Fprintf(w, " Cost:      $%.4f\n", e.Metrics.Cost)
		fmt.Fprintf(w, " Steps:     %d\n", e.Metrics.Steps)
		fmt.Fprintf(w, " Files:     %d created, %d modified, %d deleted\n",
			len(e.Files.Created), len(e.Files.Modified), len(e.Files.Deleted))
		if e.Tests != nil && !e.Tests.Passed && len(e.Tests.Summary) > 0 {
			fmt.Fprintln(w, " Errors:")
			for _, line := range e.Tests.Summary {
				fmt.Fprintf(w, "   • %s\n", line)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, " ─────────────────────────────────────────────────────────")
	fmt.Fprintln(w, " FILES")
	fmt.Fprintln(w, " ─────────────────────────────────────────────────────────")
	fmt.Fprintf(w, " Report:    %s\n", filepath.Join(path, "report.md"))
	fmt.Fprintf(w, " Result:    %s\n", filepath.Join(path, "result.json"))
	fmt.Fprintf(w, " Output:    %s\n", filepath.Join(path, "output.log"))
	if _, err := os.Stat(filepath.Join(path, "transcript.jsonl")); err == nil {
		fmt.Fprintf(w, " Transcript: %s\n", filepath.Join(path, "transcript.jsonl"))
	}
	fmt.Fprintln(w)
}

func displaySummary(w io.Writer, s *result.Summary, path string) {
	printBanner(w, " SWEEP: "+s.Timestamp)
	fmt.Fprintf(w, " Agents:    %s\n", strings.Join(s.Agents, ", "))
	fmt.Fprintf(w, " Passed:    %d\n", s.Passed)
	fmt.Fprintf(w, " Failed:    %d\n", s.Failed)
	fmt.Fprintf(w, " Total:     %d\n", s.Total)
	fmt.Fprintf(w, " Pass Rate: %.1f%%\n", s.PassRate)
	fmt.Fprintln(w)
	s.WriteLeaderboard(w)
	fmt.Fprintf(w, " Summary:   %s\n\n", filepath.Join(path, "summary.json"))
}
