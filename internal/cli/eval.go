package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vibecodingbench/vcbench/internal/agent"
	"github.com/vibecodingbench/vcbench/internal/result"
	"github.com/vibecodingbench/vcbench/internal/runner"
	"github.com/vibecodingbench/vcbench/internal/task"
)

var (
	evalAgents       []string
	evalTasks        []string
	evalCategories   []string
	evalDifficulties []string
	evalTags         []string
	evalSkip         []string
	evalLimit        int
	evalTimeout      int
	evalParallel     int
	evalOutputDir    string
	evalNoDocker     bool
	evalRecord       bool
	evalDryRun       bool
	evalMetricsAddr  string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate agents against a set of tasks",
	Long: `Runs every selected task against every listed agent, scores each run and
writes a sweep summary, an attestation and a markdown leaderboard.

Examples:
  vcbench eval --agents claude,openai
  vcbench eval --agents mock --category api --limit 2
  vcbench eval --agents gemini --skip todo-api --parallel 4
  vcbench eval --agents claude --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(evalAgents) == 0 {
			return fmt.Errorf("--agents is required (available: %s)", joinNames(cfg.ListAgents()))
		}

		parallel := evalParallel
		if parallel <= 0 {
			parallel = cfg.Harness.Parallel
		}
		if parallel <= 0 {
			parallel = 1
		}

		all, err := taskLoader(cfg).LoadAll()
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		selected, err := selectTasks(all, evalTasks, task.Filter{
			Categories:   evalCategories,
			Difficulties: evalDifficulties,
			Tags:         evalTags,
			Limit:        evalLimit,
		}, evalSkip)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return errors.New("no tasks match the specified filters")
		}

		if evalDryRun {
			printDryRun(os.Stdout, evalAgents, selected, parallel)
			return nil
		}

		reg := prometheus.NewRegistry()
		metrics := runner.MustNewMetrics(reg)
		if evalMetricsAddr != "" {
			srv := serveMetrics(evalMetricsAddr, reg)
			defer func() { _ = srv.Close() }()
		}

		h := newHarness(cfg, harnessOptions{
			Timeout:  time.Duration(evalTimeout) * time.Second,
			NoDocker: evalNoDocker,
			Metrics:  metrics,
		}, logger)
		defer func() { _ = h.Close() }()

		agents := make([]agent.Agent, 0, len(evalAgents))
		for _, name := range evalAgents {
			a, err := h.agents.FromConfig(cfg, name)
			if err != nil {
				return err
			}
			agents = append(agents, a)
		}

		timestamp := result.Timestamp(time.Now())
		outputDir := evalOutputDir
		if outputDir == "" {
			outputDir = filepath.Join(cfg.Harness.ResultsDir, "eval-"+timestamp)
		}
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		ctx, stop := signalContext()
		defer stop()

		printBanner(os.Stdout, " VCBENCH - Agent Evaluation")
		fmt.Printf(" Agents:   %s\n", strings.Join(evalAgents, ", "))
		if parallel > 1 {
			fmt.Printf(" Parallel: %d\n", parallel)
		}
		fmt.Printf(" Tasks:    %d\n", len(selected))
		fmt.Printf(" Output:   %s\n", outputDir)
		if evalMetricsAddr != "" {
			fmt.Printf(" Metrics:  http://%s/metrics\n", evalMetricsAddr)
		}
		fmt.Println()

		entries := sweep(ctx, h, selected, agents, sweepOptions{
			Parallel:  parallel,
			OutputDir: outputDir,
			Record:    evalRecord,
			Progress:  os.Stdout,
		})

		summary := result.Summarize(entries, timestamp, parallel)
		if err := writeSweep(outputDir, summary, selected); err != nil {
			return err
		}

		printBanner(os.Stdout, " EVALUATION SUMMARY")
		fmt.Printf(" Passed:    %d\n", summary.Passed)
		fmt.Printf(" Failed:    %d\n", summary.Failed)
		fmt.Printf(" Total:     %d\n", summary.Total)
		fmt.Printf(" Pass Rate: %.1f%%\n", summary.PassRate)
		fmt.Println()
		summary.WriteLeaderboard(os.Stdout)
		fmt.Printf(" Results saved to: %s\n\n", outputDir)

		return nil
	},
}

// selectTasks resolves explicit references, then applies the filter and
// drops skipped ids. Explicit references keep their given order.
func selectTasks(all []*task.Task, refs []string, f task.Filter, skip []string) ([]*task.Task, error) {
	candidates := all
	if len(refs) > 0 {
		candidates = nil
		seen := make(map[string]bool)
		for _, ref := range refs {
			ref = strings.TrimSpace(ref)
			if ref == "" {
				continue
			}
			t, err := task.ResolveRef(all, ref)
			if err != nil {
				return nil, fmt.Errorf("resolving task %q: %w", ref, err)
			}
			if !seen[t.ID] {
				seen[t.ID] = true
				candidates = append(candidates, t)
			}
		}
	}

	if len(skip) > 0 {
		var kept []*task.Task
		for _, t := range candidates {
			if !slices.ContainsFunc(skip, func(s string) bool { return matchesRef(t, s) }) {
				kept = append(kept, t)
			}
		}
		candidates = kept
	}

	return f.Apply(candidates), nil
}

func matchesRef(t *task.Task, ref string) bool {
	ref = strings.Trim(strings.TrimSpace(ref), "/")
	return ref != "" && (t.ID == ref || strings.HasSuffix(t.ID, "/"+ref))
}

type sweepOptions struct {
	Parallel  int
	OutputDir string
	Record    bool
	Progress  io.Writer
}

// sweep runs every task against every agent with at most Parallel runs in
// flight. Entries come back in task-major order regardless of completion
// order. Runs not started before ctx is cancelled are left out.
func sweep(ctx context.Context, h *harness, tasks []*task.Task, agents []agent.Agent, opts sweepOptions) []result.Entry {
	type job struct {
		t *task.Task
		a agent.Agent
	}
	var jobs []job
	for _, t := range tasks {
		for _, a := range agents {
			jobs = append(jobs, job{t: t, a: a})
		}
	}

	entries := make([]*result.Entry, len(jobs))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallel, 1))
	for i, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			run := h.runTask(gctx, j.t, j.a, opts.Record, nil)
			if err := run.Save(opts.OutputDir); err != nil {
				h.logger.Warn("failed to save result", "run", run.ID, "error", err)
			}
			e := result.EntryFromRun(run)

			mu.Lock()
			defer mu.Unlock()
			entries[i] = &e
			done++
			printEntry(opts.Progress, done, len(jobs), e)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]result.Entry, 0, len(jobs))
	for _, e := range entries {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}

func printEntry(w io.Writer, n, total int, e result.Entry) {
	if w == nil {
		return
	}
	mark := "✓"
	if e.Status != result.StatusPass {
		mark = "✗"
	}
	fmt.Fprintf(w, " [%d/%d] %s %-30s %-10s %5.1f  (%.2fs)\n", n, total, mark, e.Task, e.Agent, e.Final, e.Duration)
	if e.Error != "" {
		fmt.Fprintf(w, "   Error: %s\n", e.Error)
	}
}

// writeSweep saves summary.json, attestation.json and leaderboard.md.
func writeSweep(dir string, s *result.Summary, tasks []*task.Task) error {
	if err := s.Save(dir); err != nil {
		return err
	}

	att, err := result.NewAttestation(s, tasks, result.HarnessInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
	if err != nil {
		return fmt.Errorf("building attestation: %w", err)
	}
	if err := att.Save(dir); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, "leaderboard.md"))
	if err != nil {
		return fmt.Errorf("writing leaderboard.md: %w", err)
	}
	defer func() { _ = f.Close() }()
	fmt.Fprintf(f, "# vcbench Leaderboard (%s)\n\n", s.Timestamp)
	s.WriteLeaderboard(f)
	return nil
}

// serveMetrics exposes reg on addr until the returned server is closed.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}

func printBanner(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w)
}

func printDryRun(w io.Writer, agents []string, tasks []*task.Task, parallel int) {
	printBanner(w, " VCBENCH - Dry Run")
	fmt.Fprintf(w, " Agents:   %s\n", strings.Join(agents, ", "))
	fmt.Fprintf(w, " Parallel: %d\n", parallel)
	fmt.Fprintf(w, " Tasks:    %d\n", len(tasks))
	fmt.Fprintf(w, " Runs:     %d\n", len(tasks)*len(agents))
	fmt.Fprintln(w)
	fmt.Fprintln(w, " Tasks that would be executed:")
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
	for i, t := range tasks {
		fmt.Fprintf(w, " %3d. %-35s [%s, %s, %ds, w=%.2f]\n",
			i+1, t.ID, t.Category, t.Difficulty, t.Timeout, t.ScoreWeight())
	}
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
	fmt.Fprintln(w)
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}

func init() {
	evalCmd.Flags().StringSliceVar(&evalAgents, "agents", nil, "comma-separated agents to evaluate")
	evalCmd.Flags().StringSliceVar(&evalTasks, "tasks", nil, "comma-separated task ids or names (default: all)")
	evalCmd.Flags().StringSliceVarP(&evalCategories, "category", "c", nil, "filter by category")
	evalCmd.Flags().StringSliceVarP(&evalDifficulties, "difficulty", "d", nil, "filter by difficulty")
	evalCmd.Flags().StringSliceVar(&evalTags, "tag", nil, "filter by tag")
	evalCmd.Flags().StringSliceVar(&evalSkip, "skip", nil, "task ids or names to skip")
	evalCmd.Flags().IntVar(&evalLimit, "limit", 0, "maximum number of tasks (0 = no limit)")
	evalCmd.Flags().IntVar(&evalTimeout, "timeout", 0, "agent timeout in seconds (default from task)")
	evalCmd.Flags().IntVarP(&evalParallel, "parallel", "p", 0, "runs in flight at once (default from config)")
	evalCmd.Flags().StringVarP(&evalOutputDir, "output", "o", "", "sweep output directory (default: <results_dir>/eval-<timestamp>)")
	evalCmd.Flags().BoolVar(&evalNoDocker, "no-docker", false, "skip the compose test harness")
	evalCmd.Flags().BoolVar(&evalRecord, "record", false, "save each agent's event transcript")
	evalCmd.Flags().BoolVar(&evalDryRun, "dry-run", false, "show what would run without executing")
	evalCmd.Flags().StringVar(&evalMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the sweep")
}
