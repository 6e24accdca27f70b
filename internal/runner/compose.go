package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	errsummary "github.com/vibecodingbench/vcbench/internal/errors"
	"github.com/vibecodingbench/vcbench/internal/task"
	"github.com/vibecodingbench/vcbench/internal/toolexec"
)

// ComposeFiles are the compose file names looked up in a workspace, in order.
var ComposeFiles = []string{"docker-compose.yaml", "docker-compose.yml", "compose.yaml", "compose.yml"}

// ComposeOptions tunes the compose harness.
type ComposeOptions struct {
	AppService      string
	TestService     string
	SettleDelay     time.Duration
	UpTimeout       time.Duration
	TestTimeout     time.Duration
	TeardownTimeout time.Duration
}

// ComposeHarness brings a workspace's compose project up, runs the task's
// functional tests against it and tears it down again.
type ComposeHarness struct {
	exec   toolexec.Executor
	docker Containers
	opts   ComposeOptions
	logger *slog.Logger
}

// NewComposeHarness creates a harness. docker may be nil, in which case
// in-container commands go through `docker compose exec`.
func NewComposeHarness(exec toolexec.Executor, docker Containers, opts ComposeOptions, logger *slog.Logger) *ComposeHarness {
	if opts.AppService == "" {
		opts.AppService = "app"
	}
	if opts.TestService == "" {
		opts.TestService = "test"
	}
	if opts.UpTimeout <= 0 {
		opts.UpTimeout = 60 * time.Second
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 5 * time.Minute
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 30 * time.Second
	}
	return &ComposeHarness{exec: exec, docker: docker, opts: opts, logger: logger}
}

// FindComposeFile returns the compose file name present in dir, or "".
func FindComposeFile(dir string) string {
	for _, name := range ComposeFiles {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
			return name
		}
	}
	return ""
}

// ProjectName derives the compose project name for a workspace directory.
func ProjectName(dir string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(filepath.Base(dir)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return "vcbench-" + sb.String()
}

// DetectPass applies the keyword rule to test output: it passes when it
// mentions "pass" and mentions neither "fail" nor "error".
func DetectPass(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "pass") &&
		!strings.Contains(lower, "fail") &&
		!strings.Contains(lower, "error")
}

// testPlan is how to run a task's tests.
type testPlan struct {
	service string   // compose service to exec into
	command []string // in-container command
	host    []string // host fallback; nil means none
}

func planTests(functional, app, test string) testPlan {
	switch strings.ToLower(path.Ext(functional)) {
	case ".ts", ".js":
		return testPlan{service: app, command: []string{"npm", "test"}, host: []string{"npx", "vitest", "run", functional}}
	case ".py":
		return testPlan{service: app, command: []string{"pytest", functional}, host: []string{"python", "-m", "pytest", functional}}
	case ".go":
		return testPlan{service: app, command: []string{"go", "test", "-v", "./..."}, host: []string{"go", "test", "-v", "./..."}}
	default:
		return testPlan{service: test, command: []string{"npm", "test"}}
	}
}

// RunTests implements Tester. Every failure is reported in the outcome; the
// project is always torn down before returning.
func (h *ComposeHarness) RunTests(ctx context.Context, dir string, t *task.Task) TestOutcome {
	file := h.composeFile(dir, t)
	if file == "" {
		return TestOutcome{Passed: false, Output: "no compose file found"}
	}
	project := ProjectName(dir)
	logger := h.logger.With("project", project, "task", t.ID)

	defer h.down(ctx, dir, file, project)

	upCtx, cancel := context.WithTimeout(ctx, h.opts.UpTimeout)
	out, err := h.exec.Run(upCtx, dir, "docker", "compose", "-f", file, "-p", project, "up", "-d")
	cancel()
	if err != nil || out.ExitCode != 0 {
		logger.Warn("compose up failed", "exit_code", out.ExitCode, "error", err)
		return h.failed(t, "Test execution error: docker compose up failed: "+describe(out, err))
	}

	if h.opts.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return h.failed(t, "Test execution error: "+ctx.Err().Error())
		case <-time.After(h.opts.SettleDelay):
		}
	}

	plan := planTests(t.Tests.Functional, h.opts.AppService, h.opts.TestService)
	output, exitCode, err := h.runInService(ctx, dir, file, project, plan)
	if err != nil && plan.host != nil {
		logger.Debug("in-container tests unavailable, running on host", "error", err)
		var hostOut toolexec.Output
		hostOut, err = h.runHost(ctx, dir, plan.host)
		output, exitCode = hostOut.Combined(), hostOut.ExitCode
	}
	if err != nil {
		return h.failed(t, "Test execution error: "+describe(toolexec.Output{Stdout: output}, err))
	}

	outcome := TestOutcome{Passed: exitCode == 0 && DetectPass(output), Output: output}
	if !outcome.Passed {
		outcome.Summary = summarizerFor(t).Summarize(output)
	}
	logger.Debug("tests finished", "passed", outcome.Passed, "exit_code", exitCode)
	return outcome
}

func (h *ComposeHarness) composeFile(dir string, t *task.Task) string {
	if t.Docker != nil && t.Docker.Compose != "" {
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(t.Docker.Compose))); err == nil && info.Mode().IsRegular() {
			return t.Docker.Compose
		}
	}
	return FindComposeFile(dir)
}

// runInService runs the plan's command inside its service container. An error
// means the command could not be run there at all.
func (h *ComposeHarness) runInService(ctx context.Context, dir, file, project string, plan testPlan) (string, int, error) {
	if h.docker != nil {
		id, err := h.docker.ServiceContainer(ctx, project, plan.service)
		if err != nil {
			return "", -1, err
		}
		res, err := h.docker.Exec(ctx, id, plan.command, "", stepTimeout(ctx, h.opts.TestTimeout))
		if err != nil {
			return "", -1, err
		}
		return res.Combined, res.ExitCode, nil
	}

	testCtx, cancel := context.WithTimeout(ctx, h.opts.TestTimeout)
	defer cancel()
	args := append([]string{"compose", "-f", file, "-p", project, "exec", "-T", plan.service}, plan.command...)
	out, err := h.exec.Run(testCtx, dir, "docker", args...)
	if err != nil {
		return "", -1, err
	}
	// compose exits 1 with nothing but a complaint when the service is not running.
	if out.ExitCode != 0 && strings.Contains(out.Stderr, "is not running") {
		return "", -1, fmt.Errorf("service %s is not running", plan.service)
	}
	return out.Combined(), out.ExitCode, nil
}

func (h *ComposeHarness) runHost(ctx context.Context, dir string, argv []string) (toolexec.Output, error) {
	testCtx, cancel := context.WithTimeout(ctx, h.opts.TestTimeout)
	defer cancel()
	return h.exec.Run(testCtx, dir, argv[0], argv[1:]...)
}

// stepTimeout caps d at the time left before ctx's deadline, so a step never
// outlives the execution that started it.
func stepTimeout(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			return max(left, 0)
		}
	}
	return d
}

func (h *ComposeHarness) failed(t *task.Task, output string) TestOutcome {
	return TestOutcome{Passed: false, Output: output, Summary: summarizerFor(t).Summarize(output)}
}

func summarizerFor(t *task.Task) *errsummary.Summarizer {
	if t.Tests.Functional != "" {
		return errsummary.ForFile(t.Tests.Functional)
	}
	return errsummary.NewSummarizer(t.Stack)
}

func describe(out toolexec.Output, err error) string {
	msg := strings.TrimSpace(out.Combined())
	if err != nil {
		if msg == "" {
			return err.Error()
		}
		return err.Error() + "\n" + msg
	}
	if msg == "" {
		return fmt.Sprintf("exit code %d", out.ExitCode)
	}
	return msg
}

// Teardown implements workspace.Teardowner.
func (h *ComposeHarness) Teardown(ctx context.Context, dir string) {
	h.down(ctx, dir, FindComposeFile(dir), ProjectName(dir))
}

// down stops the project on a fresh budget so it also runs after ctx was
// cancelled. Failures are logged only.
func (h *ComposeHarness) down(ctx context.Context, dir, file, project string) {
	downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.TeardownTimeout)
	defer cancel()

	if file != "" {
		out, err := h.exec.Run(downCtx, dir, "docker", "compose", "-f", file, "-p", project, "down", "-v", "--remove-orphans")
		if err != nil && !errors.Is(err, toolexec.ErrUnavailable) {
			h.logger.Warn("compose down failed", "project", project, "error", err)
		} else if err == nil && out.ExitCode != 0 {
			h.logger.Warn("compose down failed", "project", project, "exit_code", out.ExitCode, "output", strings.TrimSpace(out.Combined()))
		}
	}

	if h.docker != nil {
		n, err := h.docker.RemoveProject(downCtx, project)
		if err != nil {
			h.logger.Warn("removing leftover containers", "project", project, "error", err)
		} else if n > 0 {
			h.logger.Debug("removed leftover containers", "project", project, "count", n)
		}
	}
}
