package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/agent"
	"github.com/vibecodingbench/vcbench/internal/result"
	"github.com/vibecodingbench/vcbench/internal/runner"
	"github.com/vibecodingbench/vcbench/internal/task"
)

// BatchConfig is the top-level structure of a batch TOML file.
type BatchConfig struct {
	Defaults BatchDefaults `toml:"defaults"`
	Runs     []BatchRun    `toml:"runs"`
}

// BatchDefaults holds default settings applied to all runs unless overridden.
type BatchDefaults struct {
	Tasks      []string `toml:"tasks"`
	Categories []string `toml:"categories"`
	Difficulty []string `toml:"difficulty"`
	Tags       []string `toml:"tags"`
	Skip       []string `toml:"skip"`
	Limit      int      `toml:"limit"`
	Timeout    int      `toml:"timeout"`
	Parallel   int      `toml:"parallel"`
	NoDocker   bool     `toml:"no_docker"`
	Repeat     int      `toml:"repeat"`
}

// BatchRun defines a single sweep in the batch config.
type BatchRun struct {
	Name       string   `toml:"name"`
	Agents     []string `toml:"agents"`
	Categories []string `toml:"categories"`
	Timeout    int      `toml:"timeout"`
	Repeat     int      `toml:"repeat"`
}

// RepeatStats aggregates one agent's weighted score across repeated sweeps.
type RepeatStats struct {
	Run    string    `json:"run"`
	Agent  string    `json:"agent"`
	Scores []float64 `json:"weighted_scores"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"stddev"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
}

var (
	batchConfigFile string
	batchRepeat     int
	batchDryRun     bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run multiple sweeps from a TOML batch file",
	Long: `Execute several sweeps defined in a TOML file. Each sweep writes its own
directory under a shared umbrella directory, followed by a comparison across
all sweeps and, when sweeps repeat, score statistics per agent.

The TOML file supports defaults that apply to all runs, with per-run overrides:

  [defaults]
  categories = ["api"]
  parallel = 2
  repeat = 3

  [[runs]]
  name = "frontier"
  agents = ["claude", "openai"]

  [[runs]]
  name = "open-weights"
  agents = ["glm", "deepseek"]
  timeout = 600`,
	Example: `  vcbench batch --file runs.toml
  vcbench batch --file runs.toml --repeat 3
  vcbench batch --file runs.toml --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, err := loadBatchConfig(batchConfigFile)
		if err != nil {
			return err
		}

		repeat := 1
		if batchRepeat > 1 {
			repeat = batchRepeat
		} else if bc.Defaults.Repeat > 1 {
			repeat = bc.Defaults.Repeat
		}

		all, err := taskLoader(cfg).LoadAll()
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		if batchDryRun {
			printBanner(os.Stdout, " VCBENCH - Batch Dry Run")
			fmt.Printf(" File:    %s\n", batchConfigFile)
			fmt.Printf(" Runs:    %d\n", len(bc.Runs))
			fmt.Printf(" Repeat:  %d\n", repeat)
			fmt.Println()
			for i, run := range bc.Runs {
				selected, err := batchTasks(all, bc.Defaults, run)
				if err != nil {
					return err
				}
				fmt.Printf(" %d. %s: agents %s, %d task(s), timeout %ds, repeat %d\n",
					i+1, run.Name, strings.Join(run.Agents, ", "), len(selected), batchTimeout(bc.Defaults, run), runRepeat(run, repeat))
			}
			fmt.Println()
			return nil
		}

		// Validate all agents before anything runs.
		registry := agent.DefaultRegistry(nil)
		for _, run := range bc.Runs {
			for _, name := range run.Agents {
				if _, err := registry.FromConfig(cfg, name); err != nil {
					return fmt.Errorf("run %s: %w", run.Name, err)
				}
			}
		}

		ctx, stop := signalContext()
		defer stop()

		metrics := runner.MustNewMetrics(prometheus.NewRegistry())
		umbrella := filepath.Join(cfg.Harness.ResultsDir, "batch-"+result.Timestamp(time.Now()))
		if err := os.MkdirAll(umbrella, 0o755); err != nil {
			return fmt.Errorf("creating umbrella directory: %w", err)
		}

		var (
			sweeps []labeledSummary
			stats  []RepeatStats
		)
		for _, run := range bc.Runs {
			selected, err := batchTasks(all, bc.Defaults, run)
			if err != nil {
				return err
			}
			if len(selected) == 0 {
				logger.Warn("no tasks match run filters", "run", run.Name)
				continue
			}

			h := newHarness(cfg, harnessOptions{
				Timeout:  time.Duration(batchTimeout(bc.Defaults, run)) * time.Second,
				NoDocker: bc.Defaults.NoDocker,
				Metrics:  metrics,
			}, logger)

			agents := make([]agent.Agent, 0, len(run.Agents))
			for _, name := range run.Agents {
				a, err := h.agents.FromConfig(cfg, name)
				if err != nil {
					_ = h.Close()
					return err
				}
				agents = append(agents, a)
			}

			var repeats []*result.Summary
			n := runRepeat(run, repeat)
			for rep := 1; rep <= n; rep++ {
				if ctx.Err() != nil {
					break
				}
				label := run.Name
				if n > 1 {
					label = fmt.Sprintf("%s-r%d", run.Name, rep)
				}
				printBanner(os.Stdout, fmt.Sprintf(" %s (%d task(s) x %d agent(s))", label, len(selected), len(agents)))

				dir := filepath.Join(umbrella, label)
				s, err := runBatchSweep(ctx, h, dir, selected, agents, bc.Defaults.Parallel)
				if err != nil {
					logger.Warn("sweep failed", "run", label, "error", err)
					continue
				}
				sweeps = append(sweeps, labeledSummary{label: label, summary: s})
				repeats = append(repeats, s)
			}
			_ = h.Close()

			if len(repeats) > 1 {
				stats = append(stats, computeRepeatStats(run.Name, repeats)...)
			}
		}

		if len(sweeps) > 1 {
			if err := writeJSONFile(filepath.Join(umbrella, "comparison.json"), buildComparison(sweeps)); err != nil {
				logger.Warn("failed to save comparison", "error", err)
			}
			writeComparison(os.Stdout, buildComparison(sweeps))
		}
		if len(stats) > 0 {
			if err := writeJSONFile(filepath.Join(umbrella, "repeat-stats.json"), stats); err != nil {
				logger.Warn("failed to save repeat stats", "error", err)
			}
			writeRepeatStats(os.Stdout, stats)
		}

		fmt.Printf("\n Batch results saved to: %s\n\n", umbrella)
		return nil
	},
}

func loadBatchConfig(path string) (*BatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}

	var bc BatchConfig
	if err := toml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(bc.Runs) == 0 {
		return nil, errors.New("no runs defined in batch file")
	}
	for i := range bc.Runs {
		if len(bc.Runs[i].Agents) == 0 {
			return nil, fmt.Errorf("run %d must specify agents", i+1)
		}
		if bc.Runs[i].Name == "" {
			bc.Runs[i].Name = fmt.Sprintf("run%d-%s", i+1, strings.Join(bc.Runs[i].Agents, "-"))
		}
	}
	return &bc, nil
}

func batchTasks(all []*task.Task, d BatchDefaults, run BatchRun) ([]*task.Task, error) {
	categories := d.Categories
	if len(run.Categories) > 0 {
		categories = run.Categories
	}
	return selectTasks(all, d.Tasks, task.Filter{
		Categories:   categories,
		Difficulties: d.Difficulty,
		Tags:         d.Tags,
		Limit:        d.Limit,
	}, d.Skip)
}

func batchTimeout(d BatchDefaults, run BatchRun) int {
	if run.Timeout > 0 {
		return run.Timeout
	}
	return d.Timeout
}

func runRepeat(run BatchRun, fallback int) int {
	if run.Repeat > 0 {
		return run.Repeat
	}
	return fallback
}

func runBatchSweep(ctx context.Context, h *harness, dir string, tasks []*task.Task, agents []agent.Agent, parallel int) (*result.Summary, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sweep directory: %w", err)
	}
	if parallel <= 0 {
		parallel = cfg.Harness.Parallel
	}
	entries := sweep(ctx, h, tasks, agents, sweepOptions{Parallel: parallel, OutputDir: dir, Progress: os.Stdout})
	s := result.Summarize(entries, result.Timestamp(time.Now()), parallel)
	if err := writeSweep(dir, s, tasks); err != nil {
		return nil, err
	}
	return s, nil
}

// computeRepeatStats summarizes each agent's weighted score over repeats.
func computeRepeatStats(run string, summaries []*result.Summary) []RepeatStats {
	var out []RepeatStats
	for _, a := range summaries[0].Agents {
		rs := RepeatStats{Run: run, Agent: a}
		for _, s := range summaries {
			if agg, ok := s.ByAgent[a]; ok {
				rs.Scores = append(rs.Scores, agg.WeightedScore)
			}
		}
		if len(rs.Scores) == 0 {
			continue
		}
		rs.Mean, rs.StdDev = meanStdDev(rs.Scores)
		rs.Min, rs.Max = rs.Scores[0], rs.Scores[0]
		for _, v := range rs.Scores[1:] {
			rs.Min = math.Min(rs.Min, v)
			rs.Max = math.Max(rs.Max, v)
		}
		out = append(out, rs)
	}
	return out
}

// meanStdDev returns the mean and sample standard deviation, rounded to one
// decimal.
func meanStdDev(vals []float64) (float64, float64) {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return math.Round(mean*10) / 10, 0
	}
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(sq / float64(len(vals)-1))
	return math.Round(mean*10) / 10, math.Round(sd*10) / 10
}

func writeRepeatStats(w io.Writer, stats []RepeatStats) {
	printBanner(w, " REPEAT STATISTICS")
	fmt.Fprintf(w, " %-20s %-12s %6s %6s %6s %6s\n", "RUN", "AGENT", "MEAN", "SD", "MIN", "MAX")
	for _, s := range stats {
		fmt.Fprintf(w, " %-20s %-12s %6.1f %6.1f %6.1f %6.1f\n", s.Run, s.Agent, s.Mean, s.StdDev, s.Min, s.Max)
	}
	fmt.Fprintln(w)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := outputJSON(f, v); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func init() {
	batchCmd.Flags().StringVarP(&batchConfigFile, "file", "f", "", "path to batch TOML file (required)")
	batchCmd.Flags().IntVar(&batchRepeat, "repeat", 1, "repeat each sweep N times")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "show what would be run without executing")
	_ = batchCmd.MarkFlagRequired("file")
}
