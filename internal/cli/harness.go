package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/vibecodingbench/vcbench/internal/agent"
	"github.com/vibecodingbench/vcbench/internal/config"
	"github.com/vibecodingbench/vcbench/internal/evaluator"
	"github.com/vibecodingbench/vcbench/internal/live"
	"github.com/vibecodingbench/vcbench/internal/pricing"
	"github.com/vibecodingbench/vcbench/internal/result"
	"github.com/vibecodingbench/vcbench/internal/runner"
	"github.com/vibecodingbench/vcbench/internal/task"
	"github.com/vibecodingbench/vcbench/internal/toolexec"
	"github.com/vibecodingbench/vcbench/internal/workspace"
	"github.com/vibecodingbench/vcbench/tasks"
)

// harness wires the components one or more runs share.
type harness struct {
	cfg        *config.Config
	loader     *task.Loader
	agents     *agent.Registry
	workspaces *workspace.Manager
	runner     *runner.Runner
	evaluator  *evaluator.Evaluator
	reporter   *live.Reporter
	logger     *slog.Logger

	docker *runner.DockerClient
}

// harnessOptions are per-command overrides of the config.
type harnessOptions struct {
	Timeout  time.Duration
	NoDocker bool
	Live     bool
	Metrics  *runner.Metrics
	Exec     toolexec.Executor // nil uses the host
}

// taskLoader returns a loader over the configured tasks directory, or over
// the embedded tasks when none is set.
func taskLoader(c *config.Config) *task.Loader {
	if c.Harness.TasksDir != "" {
		return task.NewLoader(os.DirFS(c.Harness.TasksDir), ".")
	}
	return task.NewLoader(tasks.FS, ".")
}

func templatesFS(dir string) fs.FS {
	if dir == "" {
		return nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil
	}
	return os.DirFS(dir)
}

// priceTable merges [pricing] overrides into the built-in table.
func priceTable(c *config.Config) pricing.Table {
	overrides := make(map[string]pricing.Price, len(c.Pricing))
	for name, p := range c.Pricing {
		overrides[name] = pricing.Price{InputPerMillion: p.Input, OutputPerMillion: p.Output}
	}
	return pricing.Defaults.With(overrides)
}

func newHarness(c *config.Config, opts harnessOptions, log *slog.Logger) *harness {
	exec := opts.Exec
	if exec == nil {
		exec = toolexec.OS{}
	}
	h := &harness{
		cfg:        c,
		loader:     taskLoader(c),
		agents:     agent.DefaultRegistry(nil),
		workspaces: workspace.NewManager(c.Harness.WorkspaceDir, templatesFS(c.Harness.TemplatesDir), log),
		logger:     log,
	}

	useDocker := c.Harness.UseDocker && !opts.NoDocker
	var tester runner.Tester
	if useDocker {
		var containers runner.Containers
		if opts.Exec == nil {
			dc, err := runner.NewDockerClient()
			if err != nil {
				log.Debug("docker SDK unavailable, using docker compose exec", "error", err)
			} else {
				h.docker = dc
				containers = dc
			}
		}
		compose := runner.NewComposeHarness(exec, containers, runner.ComposeOptions{
			AppService:      c.Docker.AppService,
			TestService:     c.Docker.TestService,
			SettleDelay:     config.Seconds(c.Docker.SettleDelay),
			UpTimeout:       config.Seconds(c.Docker.UpTimeout),
			TestTimeout:     config.Seconds(c.Docker.TestTimeout),
			TeardownTimeout: config.Seconds(c.Docker.TeardownTimeout),
		}, log)
		h.workspaces.SetTeardown(compose)
		tester = compose
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.Seconds(c.Harness.DefaultTimeout)
	}
	h.runner = runner.New(runner.Options{
		Timeout:    timeout,
		TokenLimit: c.Harness.TokenLimit,
		UseDocker:  useDocker,
	}, h.workspaces, tester, priceTable(c), opts.Metrics, log)

	h.evaluator = evaluator.New(exec, evaluator.Config{
		CostCeiling:      c.Scoring.CostCeiling,
		SecurityFailOpen: c.Scoring.SecurityFailOpen,
		VisualThreshold:  c.Scoring.VisualThreshold,
		Breakpoints:      c.Scoring.Breakpoints,
		ToolTimeout:      config.Seconds(c.Scoring.ToolTimeout),
	}, log)

	if opts.Live {
		h.reporter = live.New(c.Live.URL, nil, 0, log)
	}
	return h
}

// Close releases the docker client.
func (h *harness) Close() error {
	if h.docker != nil {
		return h.docker.Close()
	}
	return nil
}

// runTask creates a workspace, executes the agent, scores the result and
// removes the workspace again. The returned run is always complete; harness
// failures end up in its Error field.
func (h *harness) runTask(ctx context.Context, t *task.Task, a agent.Agent, record bool, onProgress func(agent.Event)) *result.Run {
	run := result.NewRun(t, a.Name(), a.Model())
	logger := h.logger.With("task", t.ID, "agent", a.Name())

	id, err := h.workspaces.Create(t)
	if err != nil {
		run.Complete(nil, nil, fmt.Errorf("creating workspace: %w", err))
		return run
	}
	run.WorkspaceID = id
	defer func() {
		// Teardown must outlive an interrupted sweep.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Seconds(h.cfg.Docker.TeardownTimeout)+10*time.Second)
		defer cancel()
		h.workspaces.Cleanup(cleanupCtx, id)
	}()

	liveID := h.reporter.Start(ctx, a.Name(), t.ID)
	if liveID != "" {
		fmt.Printf(" Live: %s\n", h.reporter.ViewURL(liveID))
	}
	h.reporter.SetStatus(ctx, live.StatusRunning, 10, "Agent executing task")

	progress := func(ev agent.Event) {
		h.reporter.Observe(ev)
		if onProgress != nil {
			onProgress(ev)
		}
	}

	exec, err := h.runner.Execute(ctx, runner.ExecuteOptions{
		Task:        t,
		Agent:       a,
		WorkspaceID: id,
		Live:        verbose,
		Record:      record,
		OnProgress:  progress,
	})
	if err != nil {
		h.reporter.Fail(ctx, err.Error())
		run.Complete(nil, nil, err)
		return run
	}
	if exec.Tests != nil {
		if exec.Tests.Passed {
			h.reporter.SetTestResults(1, 0)
		} else {
			h.reporter.SetTestResults(0, 1)
		}
	}

	h.reporter.SetStatus(ctx, live.StatusEvaluating, 80, "Scoring")
	dir, err := h.workspaces.Path(id)
	if err != nil {
		h.reporter.Fail(ctx, err.Error())
		run.Complete(exec, nil, err)
		return run
	}
	scores := h.evaluator.Evaluate(ctx, t, exec, dir)
	run.Complete(exec, &scores, nil)

	if errors.Is(ctx.Err(), context.Canceled) {
		h.reporter.Fail(context.WithoutCancel(ctx), "cancelled")
	} else {
		h.reporter.Complete(ctx, live.Metrics{
			TokensUsed:   exec.Metrics.TotalTokens,
			FilesRead:    exec.Metrics.FilesRead,
			FilesWritten: exec.Metrics.FilesChanged,
			ElapsedMs:    exec.Metrics.Duration.Milliseconds(),
		})
	}
	logger.Debug("run complete", "status", run.Status, "final", scores.Final)
	return run
}
