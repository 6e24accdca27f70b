// Package runner drives a coding agent through one task: it streams the
// agent's events, writes the code it produces into the workspace, runs the
// task's tests in a compose project and accounts for tokens and cost.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vibecodingbench/vcbench/internal/agent"
	"github.com/vibecodingbench/vcbench/internal/extract"
	"github.com/vibecodingbench/vcbench/internal/pricing"
	"github.com/vibecodingbench/vcbench/internal/result"
	"github.com/vibecodingbench/vcbench/internal/task"
	"github.com/vibecodingbench/vcbench/internal/workspace"
)

// TestOutcome is what a Tester reports. Harness failures are outcomes with
// Passed false, never errors.
type TestOutcome struct {
	Passed  bool
	Output  string
	Summary []string
}

// Tester runs a task's tests against a workspace.
type Tester interface {
	RunTests(ctx context.Context, dir string, t *task.Task) TestOutcome
}

// Options configures a Runner.
type Options struct {
	Timeout    time.Duration // overrides the task timeout when > 0
	TokenLimit int           // used when the task declares no token limit
	UseDocker  bool
}

// ExecuteOptions selects what one execution runs.
type ExecuteOptions struct {
	Task        *task.Task
	Agent       agent.Agent
	WorkspaceID string
	Live        bool // log every event as it arrives
	Record      bool // keep the event transcript on the result
	OnProgress  func(agent.Event)
}

// Runner executes agents against workspaces.
type Runner struct {
	opts       Options
	workspaces *workspace.Manager
	tester     Tester
	prices     pricing.Table
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a runner. tester may be nil when opts.UseDocker is false;
// metrics may be nil.
func New(opts Options, workspaces *workspace.Manager, tester Tester, prices pricing.Table, metrics *Metrics, logger *slog.Logger) *Runner {
	if prices == nil {
		prices = pricing.Defaults
	}
	return &Runner{
		opts:       opts,
		workspaces: workspaces,
		tester:     tester,
		prices:     prices,
		metrics:    metrics,
		logger:     logger,
	}
}

// execution accumulates state while events stream in.
type execution struct {
	dir      string
	before   map[string]string
	texts    []string
	created  []string
	modified []string
	seen     map[string]bool
	steps    int
	usage    *agent.Usage
	events   []agent.Event
}

// Execute runs one agent on one task in an existing workspace. Agent,
// transport and test failures are reported as a failed result; an error is
// returned only when the request itself is unusable.
func (r *Runner) Execute(ctx context.Context, eo ExecuteOptions) (*result.Execution, error) {
	if eo.Task == nil || eo.Agent == nil {
		return nil, errors.New("execute: task and agent are required")
	}
	dir, err := r.workspaces.Path(eo.WorkspaceID)
	if err != nil {
		return nil, err
	}
	t := eo.Task
	logger := r.logger.With("task", t.ID, "agent", eo.Agent.Name(), "workspace", eo.WorkspaceID)

	prompt := readPrompt(dir, t)
	before, err := workspace.Snapshot(dir)
	if err != nil {
		return nil, err
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(t.Timeout) * time.Second
	}
	if timeout <= 0 {
		timeout = task.DefaultTimeout * time.Second
	}

	r.metrics.IncActive()
	defer r.metrics.DecActive()

	// One deadline covers the agent phase and the test phase.
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st := &execution{dir: dir, before: before, seen: make(map[string]bool)}
	start := time.Now()
	failure, timedOut := r.stream(ctx, execCtx, eo, st, prompt, timeout, logger)
	duration := time.Since(start)

	res := &result.Execution{
		Files: r.files(st, logger),
		Metrics: result.Metrics{
			FilesRead: len(before),
			Duration:  duration,
			Steps:     st.steps,
		},
	}
	res.Metrics.FilesChanged = len(res.Files.Created) + len(res.Files.Modified)
	if eo.Record {
		res.Transcript = st.events
	}

	if failure != "" {
		res.Output = failure
		res.TimedOut = timedOut
		logger.Info("execution failed", "reason", failure, "duration", duration.Round(time.Millisecond))
		r.metrics.ObserveExecution(eo.Agent.Name(), outcomeLabel(res), duration, 0, 0)
		return res, nil
	}

	output := strings.Join(st.texts, "\n")
	res.Success = true
	if r.opts.UseDocker && r.tester != nil {
		outcome := r.tester.RunTests(execCtx, dir, t)
		if execCtx.Err() != nil {
			reason := fmt.Sprintf("tests timed out after %s", timeout)
			if ctx.Err() != nil {
				reason = fmt.Sprintf("execution cancelled: %v", ctx.Err())
			} else {
				res.TimedOut = true
			}
			outcome.Passed = false
			outcome.Output = strings.TrimSpace(outcome.Output + "\n" + reason)
		}
		res.Tests = &result.TestReport{Passed: outcome.Passed, Output: outcome.Output, Summary: outcome.Summary}
		res.Success = outcome.Passed
		if outcome.Output != "" {
			output += "\n\n--- Test Results ---\n" + outcome.Output
		}
	}
	res.Output = output

	in, out, total := countTokens(st.usage, prompt, strings.Join(st.texts, ""))
	res.Metrics.InputTokens, res.Metrics.OutputTokens, res.Metrics.TotalTokens = in, out, total
	res.Metrics.Cost = r.prices.Cost(eo.Agent.Name(), in, out)

	limit := t.TokenLimit
	if limit <= 0 {
		limit = r.opts.TokenLimit
	}
	if limit > 0 && total > limit {
		logger.Warn("token limit exceeded", "tokens", total, "limit", limit)
	}

	logger.Info("execution finished",
		"success", res.Success,
		"tokens", total,
		"cost", fmt.Sprintf("$%.4f", res.Metrics.Cost),
		"files_changed", res.Metrics.FilesChanged,
		"duration", duration.Round(time.Millisecond),
	)
	r.metrics.ObserveExecution(eo.Agent.Name(), outcomeLabel(res), duration, in, out)
	return res, nil
}

// stream consumes the agent's events until a terminal event, the deadline or
// cancellation. agentCtx carries the execution deadline; ctx is the caller's
// and tells cancellation apart from a timeout. It returns a non-empty failure
// message when the agent phase did not complete.
func (r *Runner) stream(ctx, agentCtx context.Context, eo ExecuteOptions, st *execution, prompt string, timeout time.Duration, logger *slog.Logger) (string, bool) {
	expired := func() (string, bool) {
		if ctx.Err() != nil {
			return fmt.Sprintf("execution cancelled: %v", ctx.Err()), false
		}
		return fmt.Sprintf("agent timed out after %s", timeout), true
	}

	events := eo.Agent.Execute(agentCtx, eo.Task, prompt)
	for {
		select {
		case <-agentCtx.Done():
			return expired()

		case ev, ok := <-events:
			if !ok {
				// Producers close the channel on cancellation too.
				if agentCtx.Err() != nil {
					return expired()
				}
				return "agent stream ended without a result", false
			}
			st.steps++
			r.notify(eo.OnProgress, ev, logger)
			if eo.Live {
				logger.Info("agent event", "type", ev.Type, "message", truncate(ev.Message, 200))
			}
			if eo.Record {
				st.events = append(st.events, ev)
			}

			switch ev.Type {
			case agent.EventText:
				st.texts = append(st.texts, ev.Message)
				r.writeBlocks(st, ev.Message, logger)
			case agent.EventError:
				if ev.Message == "" {
					return "agent reported an error", false
				}
				return ev.Message, false
			case agent.EventDone:
				st.usage = ev.Usage
				return "", false
			}
		}
	}
}

// notify forwards ev to the progress callback; a panicking callback is
// logged and does not affect the execution.
func (r *Runner) notify(fn func(agent.Event), ev agent.Event, logger *slog.Logger) {
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("progress callback panicked", "panic", p)
		}
	}()
	fn(ev)
}

// writeBlocks writes every named code block in text into the workspace.
func (r *Runner) writeBlocks(st *execution, text string, logger *slog.Logger) {
	for _, b := range extract.Extract(text) {
		if b.Filename == "" {
			continue
		}
		rel, err := workspace.WriteFile(st.dir, b.Filename, []byte(b.Code))
		if err != nil {
			logger.Warn("skipping code block", "file", b.Filename, "error", err)
			continue
		}
		if st.seen[rel] {
			continue
		}
		st.seen[rel] = true
		if _, existed := st.before[rel]; existed {
			st.modified = append(st.modified, rel)
		} else {
			st.created = append(st.created, rel)
		}
	}
}

// files classifies workspace changes; deleted paths are snapshot entries no
// longer on disk.
func (r *Runner) files(st *execution, logger *slog.Logger) result.Files {
	f := result.Files{
		Created:  append([]string{}, st.created...),
		Modified: append([]string{}, st.modified...),
		Deleted:  []string{},
	}
	after, err := workspace.Snapshot(st.dir)
	if err != nil {
		logger.Warn("snapshotting workspace after execution", "error", err)
		return f
	}
	for rel := range st.before {
		if _, ok := after[rel]; !ok {
			f.Deleted = append(f.Deleted, rel)
		}
	}
	slices.Sort(f.Deleted)
	return f
}

// readPrompt loads the task prompt from the workspace, falling back to the
// task description.
func readPrompt(dir string, t *task.Task) string {
	name := t.PromptFile
	if name == "" {
		name = task.DefaultPromptFile
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	if err != nil {
		return "Complete the following task:\n\n" + t.Description
	}
	return string(data)
}

// countTokens prefers vendor-reported counts and estimates four characters
// per token otherwise.
func countTokens(u *agent.Usage, prompt, output string) (in, out, total int) {
	switch {
	case u != nil && u.InputTokens > 0 && u.OutputTokens > 0:
		return u.InputTokens, u.OutputTokens, u.InputTokens + u.OutputTokens
	case u != nil && u.TotalTokens > 0:
		in = u.TotalTokens * 3 / 10
		return in, u.TotalTokens - in, u.TotalTokens
	default:
		in = ceilDiv(utf8.RuneCountInString(prompt), 4)
		out = ceilDiv(utf8.RuneCountInString(output), 4)
		return in, out, in + out
	}
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

func outcomeLabel(res *result.Execution) string {
	switch {
	case res.Success:
		return "success"
	case res.TimedOut:
		return "timeout"
	default:
		return "failure"
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
