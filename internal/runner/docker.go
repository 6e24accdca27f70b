package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Labels docker compose stamps on the containers it creates.
const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
)

// ErrNoContainer is returned when no running container carries the
// requested compose project and service labels.
var ErrNoContainer = errors.New("no running container for service")

// ExecResult holds the result of executing a command in a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Combined string
	Duration time.Duration
}

// Containers is the container surface the compose harness needs.
type Containers interface {
	ServiceContainer(ctx context.Context, project, service string) (string, error)
	Exec(ctx context.Context, containerID string, cmd []string, workdir string, timeout time.Duration) (*ExecResult, error)
	RemoveProject(ctx context.Context, project string) (int, error)
}

// DockerClient wraps the Docker SDK client with compose-aware operations.
type DockerClient struct {
	client *client.Client
}

// NewDockerClient creates a Docker client and verifies the daemon answers.
func NewDockerClient() (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible (is Docker running?): %w", err)
	}

	return &DockerClient{client: cli}, nil
}

// Close closes the Docker client.
func (d *DockerClient) Close() error {
	return d.client.Close()
}

func projectFilter(project string) filters.Args {
	return filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+project))
}

// ServiceContainer returns the id of the running container compose started
// for service in project.
func (d *DockerClient) ServiceContainer(ctx context.Context, project, service string) (string, error) {
	args := projectFilter(project)
	args.Add("label", composeServiceLabel+"="+service)

	list, err := d.client.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return "", fmt.Errorf("listing containers: %w", err)
	}
	for _, c := range list {
		if c.State == "running" {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w %s/%s", ErrNoContainer, project, service)
}

// RemoveProject force-removes every container, running or not, that belongs
// to a compose project and reports how many were removed.
func (d *DockerClient) RemoveProject(ctx context.Context, project string) (int, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: projectFilter(project)})
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	var errs []error
	removed := 0
	for _, c := range list {
		if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			errs = append(errs, fmt.Errorf("removing container %s: %w", shortID(c.ID), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Exec executes a command in a running container and returns the result.
func (d *DockerClient) Exec(ctx context.Context, containerID string, cmd []string, workdir string, timeout time.Duration) (*ExecResult, error) {
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execResp, err := d.client.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attachResp, err := d.client.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec: %w", err)
	}

	// stdcopy.StdCopy blocks until EOF and ignores ctx, so it runs in its
	// own goroutine and the connection is closed when the timeout fires.
	var stdout, stderr bytes.Buffer
	var bufMu sync.Mutex
	copyDone := make(chan error, 1)

	go func() {
		bufMu.Lock()
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		bufMu.Unlock()
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		attachResp.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("reading exec output: %w", copyErr)
		}
	case <-execCtx.Done():
		attachResp.Close()
		<-copyDone
		bufMu.Lock()
		res := newExecResult(-1, stdout.String(), stderr.String(), start)
		bufMu.Unlock()
		return res, fmt.Errorf("exec timed out after %v", timeout)
	}

	// execCtx may be nearly spent; the exit code gets a fresh budget.
	inspectCtx, inspectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer inspectCancel()

	for {
		inspectResp, err := d.client.ContainerExecInspect(inspectCtx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("inspecting exec: %w", err)
		}
		if !inspectResp.Running {
			return newExecResult(inspectResp.ExitCode, stdout.String(), stderr.String(), start), nil
		}

		select {
		case <-inspectCtx.Done():
			return newExecResult(-1, stdout.String(), stderr.String(), start),
				fmt.Errorf("timeout waiting for exec exit code")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func newExecResult(code int, stdout, stderr string, start time.Time) *ExecResult {
	return &ExecResult{
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
		Combined: stdout + stderr,
		Duration: time.Since(start),
	}
}
