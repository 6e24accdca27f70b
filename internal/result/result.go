// Package result holds execution and scoring records, writes per-run reports
// and formats them for the terminal.
package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibecodingbench/vcbench/internal/agent"
	"github.com/vibecodingbench/vcbench/internal/task"
)

// Status represents the final status of a run.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// StatusEmoji maps status values to their emoji representations.
var StatusEmoji = map[Status]string{
	StatusPass:    "✅",
	StatusFail:    "❌",
	StatusTimeout: "⏱️",
	StatusError:   "⚠️",
}

// Files lists workspace paths touched by the agent, relative to the workspace.
type Files struct {
	Created  []string `json:"created"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Metrics is the accounting of one execution.
type Metrics struct {
	TotalTokens  int           `json:"total_tokens"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	FilesRead    int           `json:"files_read"`
	FilesChanged int           `json:"files_changed"`
	Duration     time.Duration `json:"duration_ns"`
	Steps        int           `json:"steps"`
}

// TestReport is the outcome of the test harness.
type TestReport struct {
	Passed  bool     `json:"passed"`
	Output  string   `json:"output"`
	Summary []string `json:"summary,omitempty"`
}

// Execution is what the orchestrator produces for one agent on one task.
type Execution struct {
	Success    bool          `json:"success"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Output     string        `json:"output"`
	Files      Files         `json:"files"`
	Metrics    Metrics       `json:"metrics"`
	Tests      *TestReport   `json:"tests,omitempty"`
	Transcript []agent.Event `json:"-"`
}

// Security is the security gate outcome.
type Security struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

// Scores are the evaluation subscores, each in [0,100].
type Scores struct {
	Functional float64  `json:"functional"`
	Visual     float64  `json:"visual"`
	Quality    float64  `json:"quality"`
	Cost       float64  `json:"cost"`
	Speed      float64  `json:"speed"`
	Security   Security `json:"security"`
	Final      float64  `json:"final"`
}

// Run is the persisted record of one agent attempting one task.
type Run struct {
	ID          string        `json:"id"`
	TaskID      string        `json:"task_id"`
	TaskName    string        `json:"task_name"`
	Category    string        `json:"category"`
	Difficulty  string        `json:"difficulty"`
	Weight      float64       `json:"weight"`
	Agent       string        `json:"agent"`
	Model       string        `json:"model,omitempty"`
	WorkspaceID string        `json:"workspace_id,omitempty"`
	Status      Status        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	TotalTime   time.Duration `json:"total_time_ns"`
	Execution   *Execution    `json:"execution,omitempty"`
	Scores      *Scores       `json:"scores,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// NewRun starts a run record for agentName on t.
func NewRun(t *task.Task, agentName, model string) *Run {
	now := time.Now()
	slug := strings.ReplaceAll(t.ID, "/", "-")
	id := fmt.Sprintf("%s-%s-%s-%s", agentName, slug, now.Format("2006-01-02T150405"), uuid.NewString()[:8])

	return &Run{
		ID:         id,
		TaskID:     t.ID,
		TaskName:   t.Name,
		Category:   t.Category,
		Difficulty: t.Difficulty,
		Weight:     t.ScoreWeight(),
		Agent:      agentName,
		Model:      model,
		Status:     StatusFail,
		StartedAt:  now,
	}
}

// Complete finalizes the run from its outcome. err is a harness failure that
// prevented execution or scoring.
func (r *Run) Complete(exec *Execution, scores *Scores, err error) {
	r.CompletedAt = time.Now()
	r.TotalTime = r.CompletedAt.Sub(r.StartedAt)
	r.Execution = exec
	r.Scores = scores

	switch {
	case err != nil:
		r.Status = StatusError
		r.Error = err.Error()
	case exec == nil:
		r.Status = StatusError
	case exec.Success:
		r.Status = StatusPass
	case exec.TimedOut:
		r.Status = StatusTimeout
	default:
		r.Status = StatusFail
	}
}

// Passed reports whether the run succeeded.
func (r *Run) Passed() bool {
	return r.Status == StatusPass
}

// FinalScore returns the final score, 0 when the run was never scored.
func (r *Run) FinalScore() float64 {
	if r.Scores == nil {
		return 0
	}
	return r.Scores.Final
}

// Dir returns the directory a run is stored in.
func (r *Run) Dir(baseDir string) string {
	return filepath.Join(baseDir, r.ID)
}

// Save writes result.json, report.md, output.log and, when a transcript was
// recorded, transcript.jsonl under baseDir/<id>.
func (r *Run) Save(baseDir string) error {
	dir := r.Dir(baseDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing result.json: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(r.GenerateMarkdown()), 0o644); err != nil {
		return fmt.Errorf("writing report.md: %w", err)
	}

	if r.Execution == nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "output.log"), []byte(r.Execution.Output), 0o644); err != nil {
		return fmt.Errorf("writing output.log: %w", err)
	}

	if len(r.Execution.Transcript) > 0 {
		if err := writeTranscript(filepath.Join(dir, "transcript.jsonl"), r.Execution.Transcript); err != nil {
			return err
		}
	}
	return nil
}

func writeTranscript(path string, events []agent.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("writing transcript: %w", err)
		}
	}
	return nil
}

// LoadRun reads a result.json written by Save.
func LoadRun(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &r, nil
}

// GenerateMarkdown renders a human-readable report.
func (r *Run) GenerateMarkdown() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# vcbench Report: %s\n\n", r.TaskID)
	fmt.Fprintf(&sb, "**Status:** %s %s\n\n", StatusEmoji[r.Status], strings.ToUpper(string(r.Status)))
	fmt.Fprintf(&sb, "**Agent:** %s", r.Agent)
	if r.Model != "" {
		fmt.Fprintf(&sb, " (%s)", r.Model)
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "**Category:** %s / %s\n\n", r.Category, r.Difficulty)
	fmt.Fprintf(&sb, "**Started:** %s\n\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Total Time:** %s\n\n", r.TotalTime.Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(&sb, "**Error:** %s\n\n", r.Error)
	}

	if s := r.Scores; s != nil {
		sb.WriteString("---\n\n## Scores\n\n")
		sb.WriteString("| Metric | Score |\n|---|---|\n")
		fmt.Fprintf(&sb, "| Functional | %.1f |\n", s.Functional)
		fmt.Fprintf(&sb, "| Visual | %.1f |\n", s.Visual)
		fmt.Fprintf(&sb, "| Quality | %.1f |\n", s.Quality)
		fmt.Fprintf(&sb, "| Cost | %.1f |\n", s.Cost)
		fmt.Fprintf(&sb, "| Speed | %.1f |\n", s.Speed)
		fmt.Fprintf(&sb, "| **Final** | **%.1f** |\n\n", s.Final)
		if s.Security.Passed {
			sb.WriteString("**Security:** passed\n\n")
		} else {
			sb.WriteString("**Security:** FAILED\n\n")
		}
		for _, issue := range s.Security.Issues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}
		if len(s.Security.Issues) > 0 {
			sb.WriteString("\n")
		}
	}

	if e := r.Execution; e != nil {
		sb.WriteString("---\n\n## Execution\n\n")
		fmt.Fprintf(&sb, "- **Tokens:** %d (in %d / out %d)\n", e.Metrics.TotalTokens, e.Metrics.InputTokens, e.Metrics.OutputTokens)
		fmt.Fprintf(&sb, "- **Cost:** $%.4f\n", e.Metrics.Cost)
		fmt.Fprintf(&sb, "- **Duration:** %s\n", e.Metrics.Duration.Round(time.Millisecond))
		fmt.Fprintf(&sb, "- **Steps:** %d\n", e.Metrics.Steps)
		fmt.Fprintf(&sb, "- **Files:** %d created, %d modified, %d deleted\n\n",
			len(e.Files.Created), len(e.Files.Modified), len(e.Files.Deleted))

		if e.Tests != nil && len(e.Tests.Summary) > 0 {
			sb.WriteString("**Error Summary:**\n\n")
			for _, line := range e.Tests.Summary {
				fmt.Fprintf(&sb, "- %s\n", line)
			}
			sb.WriteString("\n")
		}

		sb.WriteString("<details>\n<summary>Agent Output</summary>\n\n```\n")
		sb.WriteString(e.Output)
		sb.WriteString("\n```\n</details>\n")
	}

	return sb.String()
}

// FormatTerminal returns a boxed summary of a run for terminal output.
func FormatTerminal(r *Run) string {
	if r == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&sb, " VCBENCH                    %s (%s)\n", r.TaskID, r.Agent)
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	if r.Passed() {
		fmt.Fprintf(&sb, " ✓ PASS                                        ⏱  %s\n", r.TotalTime.Round(time.Millisecond))
	} else {
		fmt.Fprintf(&sb, " ✗ %s                                        ⏱  %s\n",
			strings.ToUpper(string(r.Status)), r.TotalTime.Round(time.Millisecond))
	}
	sb.WriteString(" ─────────────────────────────────────────────────────────\n")

	if s := r.Scores; s != nil {
		fmt.Fprintf(&sb, " Functional %5.1f   Visual %5.1f   Quality %5.1f\n", s.Functional, s.Visual, s.Quality)
		fmt.Fprintf(&sb, " Cost       %5.1f   Speed  %5.1f   Security %s\n", s.Cost, s.Speed, passLabel(s.Security.Passed))
		fmt.Fprintf(&sb, " Final      %5.1f\n", s.Final)
	}
	if e := r.Execution; e != nil {
		fmt.Fprintf(&sb, " Tokens     %d   Cost $%.4f   Steps %d\n", e.Metrics.TotalTokens, e.Metrics.Cost, e.Metrics.Steps)
		if e.Tests != nil && !e.Tests.Passed && len(e.Tests.Summary) > 0 {
			sb.WriteString("\n Error Summary:\n")
			for _, line := range e.Tests.Summary {
				fmt.Fprintf(&sb, "   • %s\n", line)
			}
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, " Error: %s\n", r.Error)
	}
	sb.WriteString("\n")
	return sb.String()
}

func passLabel(ok bool) string {
	if ok {
		return "pass"
	}
	return "FAIL"
}
