// Package toolexec runs external tools (linters, scanners, test runners,
// docker compose) as subprocesses bounded by a context.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrUnavailable is returned when the tool binary is not installed.
var ErrUnavailable = errors.New("tool unavailable")

// Output is what a finished tool produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (o Output) Combined() string {
	return o.Stdout + o.Stderr
}

// Executor runs name with args in dir. A non-zero exit is not an error: it is
// reported through Output.ExitCode. Errors mean the tool could not be run at
// all (ErrUnavailable) or was cut off by ctx.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) (Output, error)
}

// OS runs tools as host processes. Each tool gets its own process group so
// cancellation takes down anything it spawned.
type OS struct {
	Env []string // appended to the inherited environment
}

// Run implements Executor.
func (e OS) Run(ctx context.Context, dir, name string, args ...string) (Output, error) {
	if _, err := exec.LookPath(name); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("%w: %s", ErrUnavailable, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	setupProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("%s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		out.ExitCode = -1
		return out, fmt.Errorf("running %s: %w", name, err)
	}
	return out, nil
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, dir, name string, args ...string) (Output, error)

// Run implements Executor.
func (f Func) Run(ctx context.Context, dir, name string, args ...string) (Output, error) {
	return f(ctx, dir, name, args...)
}
