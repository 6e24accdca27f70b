// Package live streams run progress to the leaderboard's live API so a run
// can be watched while it executes. Reporting is best effort: failures are
// logged and never interrupt the run. A nil *Reporter is a valid no-op.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vibecodingbench/vcbench/internal/agent"
)

// DefaultURL is the live API of a locally running leaderboard.
const DefaultURL = "http://localhost:3001/api/live"

// DefaultInterval is how often accumulated metrics are pushed.
const DefaultInterval = 5 * time.Second

// Status is a run lifecycle stage.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusEvaluating   Status = "evaluating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Metrics are the counters shown next to a live run.
type Metrics struct {
	TokensUsed   int   `json:"tokensUsed"`
	FilesRead    int   `json:"filesRead"`
	FilesWritten int   `json:"filesWritten"`
	TestsPass    int   `json:"testsPass"`
	TestsFail    int   `json:"testsFail"`
	ElapsedMs    int64 `json:"elapsedMs"`
}

// LogEntry is one line of the run log.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// Update is the PATCH body for a run.
type Update struct {
	Status      Status     `json:"status,omitempty"`
	Progress    *int       `json:"progress,omitempty"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Metrics     *Metrics   `json:"metrics,omitempty"`
	Logs        []LogEntry `json:"logs,omitempty"`
}

// Reporter publishes one run at a time.
type Reporter struct {
	baseURL  string
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	runID   string
	metrics Metrics
	logs    []LogEntry
	started time.Time
	stop    chan struct{}
	done    chan struct{}
}

// New creates a reporter for the API at baseURL. client may be nil; interval
// <= 0 selects DefaultInterval.
func New(baseURL string, client *http.Client, interval time.Duration, logger *slog.Logger) *Reporter {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// Start registers a run and begins periodic metric pushes. It returns the
// run id, or "" when the service could not be reached.
func (r *Reporter) Start(ctx context.Context, agentName, taskID string) string {
	if r == nil {
		return ""
	}
	body := map[string]string{"agentName": agentName, "taskId": taskID}
	var created struct {
		ID string `json:"id"`
	}
	if err := r.send(ctx, http.MethodPost, r.baseURL+"/runs", body, &created); err != nil {
		r.logger.Warn("live reporting unavailable", "url", r.baseURL, "error", err)
		return ""
	}
	if created.ID == "" {
		r.logger.Warn("live reporting unavailable", "url", r.baseURL, "error", "response carried no run id")
		return ""
	}

	r.mu.Lock()
	r.runID = created.ID
	r.metrics = Metrics{}
	r.logs = nil
	r.started = time.Now()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	go r.tick(stop, done)
	return created.ID
}

// ViewURL is the leaderboard page of a run.
func (r *Reporter) ViewURL(runID string) string {
	if r == nil || runID == "" {
		return ""
	}
	return strings.TrimSuffix(r.baseURL, "/api/live") + "/live/" + runID
}

func (r *Reporter) tick(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m := r.snapshot()
			r.Send(context.Background(), Update{Metrics: &m})
		}
	}
}

// snapshot returns the current metrics with the elapsed time filled in.
func (r *Reporter) snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metrics
	if !r.started.IsZero() {
		m.ElapsedMs = time.Since(r.started).Milliseconds()
	}
	return m
}

// Send pushes an update, attaching any pending log lines.
func (r *Reporter) Send(ctx context.Context, u Update) {
	if r == nil {
		return
	}
	r.mu.Lock()
	id := r.runID
	if id == "" {
		r.mu.Unlock()
		return
	}
	if len(r.logs) > 0 {
		u.Logs = r.logs
		r.logs = nil
	}
	r.mu.Unlock()

	if err := r.send(ctx, http.MethodPatch, r.baseURL+"/runs/"+id, u, nil); err != nil {
		r.logger.Debug("live update failed", "run", id, "error", err)
	}
}

// SetStatus moves the run to a new stage.
func (r *Reporter) SetStatus(ctx context.Context, s Status, progress int, step string) {
	r.Send(ctx, Update{Status: s, Progress: &progress, CurrentStep: step})
}

// Log queues a line for the next update.
func (r *Reporter) Log(message string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, LogEntry{Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Message: message})
}

// Observe records an agent event. It has the shape of a progress callback.
func (r *Reporter) Observe(ev agent.Event) {
	if r == nil {
		return
	}
	r.Log(fmt.Sprintf("[%s] %s", ev.Type, ev.Message))
	if ev.Type != agent.EventToolUse {
		return
	}
	msg := strings.ToLower(ev.Message)
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case strings.Contains(msg, "read"):
		r.metrics.FilesRead++
	case strings.Contains(msg, "writ"), strings.Contains(msg, "edit"):
		r.metrics.FilesWritten++
	}
}

// SetTestResults records test pass and fail counts.
func (r *Reporter) SetTestResults(pass, fail int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.TestsPass, r.metrics.TestsFail = pass, fail
}

// Complete marks the run completed with its final counters.
func (r *Reporter) Complete(ctx context.Context, final Metrics) {
	if r == nil {
		return
	}
	r.halt()
	r.mu.Lock()
	elapsed := final.ElapsedMs
	final.TestsPass, final.TestsFail = r.metrics.TestsPass, r.metrics.TestsFail
	r.metrics = final
	r.mu.Unlock()

	m := r.snapshot()
	if elapsed > 0 {
		m.ElapsedMs = elapsed
	}
	progress := 100
	r.Send(ctx, Update{Status: StatusCompleted, Progress: &progress, CurrentStep: "Complete", Metrics: &m})
}

// Fail marks the run failed.
func (r *Reporter) Fail(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.halt()
	r.Log("Error: " + reason)
	m := r.snapshot()
	r.Send(ctx, Update{Status: StatusFailed, CurrentStep: "Failed", Metrics: &m})
}

// halt stops the periodic pushes and waits for the pusher to exit.
func (r *Reporter) halt() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (r *Reporter) send(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
