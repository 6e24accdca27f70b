package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/vibecodingbench/vcbench/internal/agent"
	"github.com/vibecodingbench/vcbench/internal/config"
	"github.com/vibecodingbench/vcbench/internal/result"
	"github.com/vibecodingbench/vcbench/internal/task"
	"github.com/vibecodingbench/vcbench/internal/toolexec"
)

func descriptor(name, category, difficulty string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(fmt.Sprintf(
		"name: %s\ncategory: %s\ndescription: %s task\ndifficulty: %s\ntimeout: 60\n",
		name, category, name, difficulty))}
}

func sampleTasks() fstest.MapFS {
	return fstest.MapFS{
		"api/rest/todo/task.yaml":       descriptor("todo", "api", "medium"),
		"api/rest/todo/PROMPT.md":       {Data: []byte("Build a todo API.")},
		"api/graphql/blog/task.yaml":    descriptor("blog", "api", "hard"),
		"web/landing/task.yaml":         descriptor("landing", "web", "easy"),
		"web/landing/PROMPT.md":         {Data: []byte("Build a landing page.")},
		"glue/csv/task.yaml":            descriptor("csv", "glue", "easy"),
		"glue/csv/tests/test_csv.py":    {Data: []byte("def test_x(): pass\n")},
		"glue/csv/fixtures/sample.csv":  {Data: []byte("a,b\n1,2\n")},
		"glue/.hidden/broken/task.yaml": {Data: []byte("not: [valid")},
	}
}

func loadSample(t *testing.T) (*task.Loader, []*task.Task) {
	t.Helper()
	loader := task.NewLoader(sampleTasks(), ".")
	all, err := loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	return loader, all
}

func ids(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestSelectTasks(t *testing.T) {
	t.Parallel()

	_, all := loadSample(t)

	tests := []struct {
		name string
		refs []string
		f    task.Filter
		skip []string
		want string
	}{
		{name: "all", want: "api/rest/todo,api/graphql/blog,glue/csv,web/landing"},
		{name: "category", f: task.Filter{Categories: []string{"api"}}, want: "api/rest/todo,api/graphql/blog"},
		{name: "skip by name", skip: []string{"blog", "glue/csv"}, want: "api/rest/todo,web/landing"},
		{name: "limit after skip", skip: []string{"todo"}, f: task.Filter{Limit: 2}, want: "api/graphql/blog,glue/csv"},
		{name: "explicit refs keep order", refs: []string{"landing", " todo ", "landing"}, want: "web/landing,api/rest/todo"},
		{name: "refs and difficulty", refs: []string{"landing", "blog"}, f: task.Filter{Difficulties: []string{"hard"}}, want: "api/graphql/blog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := selectTasks(all, tt.refs, tt.f, tt.skip)
			if err != nil {
				t.Fatalf("selectTasks() error = %v", err)
			}
			if s := strings.Join(ids(got), ","); s != tt.want {
				t.Fatalf("selectTasks() = %s, want %s", s, tt.want)
			}
		})
	}
}

func TestSelectTasksUnknownRef(t *testing.T) {
	t.Parallel()

	_, all := loadSample(t)
	if _, err := selectTasks(all, []string{"nope"}, task.Filter{}, nil); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestOutputTable(t *testing.T) {
	t.Parallel()

	_, all := loadSample(t)
	var buf bytes.Buffer
	if err := outputTable(&buf, all); err != nil {
		t.Fatalf("outputTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ID", "api/rest/todo", "medium", "1.00"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	_ = outputTable(&buf, nil)
	if !strings.Contains(buf.String(), "No tasks found.") {
		t.Fatalf("empty table = %q", buf.String())
	}
}

// newTestHarness builds a harness over the sample tasks with no external
// tools and no containers.
func newTestHarness(t *testing.T) *harness {
	t.Helper()

	c := config.Default
	c.Harness.WorkspaceDir = filepath.Join(t.TempDir(), "ws")
	c.Harness.TemplatesDir = ""
	c.Harness.UseDocker = false

	noTools := toolexec.Func(func(_ context.Context, _, name string, _ ...string) (toolexec.Output, error) {
		return toolexec.Output{ExitCode: -1}, fmt.Errorf("%w: %s", toolexec.ErrUnavailable, name)
	})
	h := newHarness(&c, harnessOptions{NoDocker: true, Exec: noTools}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.loader = task.NewLoader(sampleTasks(), ".")
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestRunTaskWithMockAgent(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	tk, err := h.loader.Load("todo")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var events []agent.Event
	run := h.runTask(context.Background(), tk, agent.NewMock("mock", ""), true, func(ev agent.Event) {
		events = append(events, ev)
	})

	if run.Status != result.StatusPass {
		t.Fatalf("Status = %s (%s), want pass", run.Status, run.Error)
	}
	if run.Scores == nil || run.Scores.Final <= 0 {
		t.Fatalf("Scores = %+v, want a positive final score", run.Scores)
	}
	if !run.Scores.Security.Passed {
		t.Fatal("security should fail open when the scanner is unavailable")
	}
	if len(events) != 4 {
		t.Fatalf("progress events = %d, want 4", len(events))
	}
	if len(run.Execution.Transcript) != 4 {
		t.Fatalf("transcript = %d events, want 4", len(run.Execution.Transcript))
	}
	if ids := h.workspaces.IDs(); len(ids) != 0 {
		t.Fatalf("workspaces left behind: %v", ids)
	}
}

func TestSweepOrdersEntriesAndWritesRuns(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	all, err := h.loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	agents := []agent.Agent{agent.NewMock("mock", ""), agent.NewMock("mock-b", "m2")}
	out := t.TempDir()

	var progress bytes.Buffer
	entries := sweep(context.Background(), h, all, agents, sweepOptions{Parallel: 3, OutputDir: out, Progress: &progress})

	if len(entries) != len(all)*2 {
		t.Fatalf("entries = %d, want %d", len(entries), len(all)*2)
	}
	for i, e := range entries {
		wantTask, wantAgent := all[i/2].ID, agents[i%2].Name()
		if e.Task != wantTask || e.Agent != wantAgent {
			t.Fatalf("entry %d = %s/%s, want %s/%s", i, e.Task, e.Agent, wantTask, wantAgent)
		}
		if _, err := os.Stat(filepath.Join(out, e.RunID, "result.json")); err != nil {
			t.Fatalf("run %s not saved: %v", e.RunID, err)
		}
	}
	if got := strings.Count(progress.String(), "✓"); got != len(entries) {
		t.Fatalf("progress lines with pass marks = %d, want %d\n%s", got, len(entries), progress.String())
	}
}

func TestSweepCancelled(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	all, _ := h.loader.LoadAll()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entries := sweep(ctx, h, all, []agent.Agent{agent.NewMock("", "")}, sweepOptions{Parallel: 1, OutputDir: t.TempDir()})
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0 after cancellation", len(entries))
	}
}

func sweepFixture(t *testing.T) (string, *task.Loader, []*task.Task) {
	t.Helper()

	loader, all := loadSample(t)
	dir := t.TempDir()
	entries := []result.Entry{
		{Task: "api/rest/todo", Category: "api", Weight: 1, Agent: "claude", Status: result.StatusPass, Final: 90},
		{Task: "api/rest/todo", Category: "api", Weight: 1, Agent: "glm", Status: result.StatusFail, Final: 10},
	}
	s := result.Summarize(entries, "2026-01-01T000000", 1)
	if err := writeSweep(dir, s, all); err != nil {
		t.Fatalf("writeSweep() error = %v", err)
	}
	return dir, loader, all
}

func TestWriteSweepFiles(t *testing.T) {
	t.Parallel()

	dir, _, _ := sweepFixture(t)
	for _, name := range []string{"summary.json", "attestation.json", "leaderboard.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}
	board, _ := os.ReadFile(filepath.Join(dir, "leaderboard.md"))
	if !strings.Contains(string(board), "| 1 | claude 🏆 |") {
		t.Fatalf("leaderboard.md missing ranked winner:\n%s", board)
	}
}

func TestVerifySweep(t *testing.T) {
	t.Parallel()

	dir, loader, _ := sweepFixture(t)

	rep, err := verifySweep(io.Discard, dir, loader)
	if err != nil {
		t.Fatalf("verifySweep() error = %v", err)
	}
	if rep.failed != 0 || rep.warnings != 0 {
		t.Fatalf("clean sweep: failed=%d warnings=%d, want 0/0", rep.failed, rep.warnings)
	}

	// Inflate a score after the fact.
	s, err := result.LoadSummary(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.Results[1].Final = 95
	if err := s.Save(dir); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rep, err = verifySweep(&out, dir, loader)
	if err != nil {
		t.Fatalf("verifySweep() error = %v", err)
	}
	if rep.failed != 1 {
		t.Fatalf("tampered sweep: failed = %d, want 1", rep.failed)
	}
	if !strings.Contains(out.String(), "Results hash MISMATCH") {
		t.Fatalf("output missing mismatch line:\n%s", out.String())
	}
}

func TestVerifySweepChangedTask(t *testing.T) {
	t.Parallel()

	dir, _, _ := sweepFixture(t)

	changed := sampleTasks()
	changed["glue/csv/fixtures/sample.csv"] = &fstest.MapFile{Data: []byte("a,b\n1,3\n")}
	delete(changed, "web/landing/task.yaml")
	delete(changed, "web/landing/PROMPT.md")

	var out bytes.Buffer
	rep, err := verifySweep(&out, dir, task.NewLoader(changed, "."))
	if err != nil {
		t.Fatalf("verifySweep() error = %v", err)
	}
	if rep.failed != 1 || rep.warnings != 1 {
		t.Fatalf("failed=%d warnings=%d, want 1/1\n%s", rep.failed, rep.warnings, out.String())
	}
	if !strings.Contains(out.String(), "✗ glue/csv - hash mismatch") || !strings.Contains(out.String(), "? web/landing") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestBuildComparison(t *testing.T) {
	t.Parallel()

	a := result.Summarize([]result.Entry{
		{Task: "x", Agent: "claude", Status: result.StatusPass, Final: 80, Weight: 1},
		{Task: "y", Agent: "claude", Status: result.StatusFail, Final: 20, Weight: 1},
	}, "t1", 1)
	b := result.Summarize([]result.Entry{
		{Task: "x", Agent: "glm", Status: result.StatusPass, Final: 70, Weight: 1},
	}, "t2", 1)

	c := buildComparison([]labeledSummary{{label: "a", summary: a}, {label: "b", summary: b}})

	if len(c.Columns) != 2 || c.Columns[0].Name != "a/claude" || c.Columns[1].Name != "b/glm" {
		t.Fatalf("columns = %+v", c.Columns)
	}
	if c.Columns[0].WeightedScore != 50 {
		t.Fatalf("a/claude weighted = %v, want 50", c.Columns[0].WeightedScore)
	}
	if strings.Join(c.Tasks, ",") != "x,y" {
		t.Fatalf("tasks = %v", c.Tasks)
	}
	if _, ok := c.Scores["y"]["b/glm"]; ok {
		t.Fatal("b/glm never ran y")
	}

	var buf bytes.Buffer
	writeComparison(&buf, c)
	if !strings.Contains(buf.String(), "| y | 20.0 | — |") {
		t.Fatalf("comparison table missing row:\n%s", buf.String())
	}
}

func TestLoadBatchConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.toml")
	data := `
[defaults]
categories = ["api"]
parallel = 2
repeat = 3

[[runs]]
name = "frontier"
agents = ["claude", "openai"]

[[runs]]
agents = ["glm"]
categories = ["web"]
timeout = 600
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	bc, err := loadBatchConfig(path)
	if err != nil {
		t.Fatalf("loadBatchConfig() error = %v", err)
	}
	if len(bc.Runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(bc.Runs))
	}
	if bc.Runs[1].Name != "run2-glm" {
		t.Fatalf("default name = %q, want run2-glm", bc.Runs[1].Name)
	}
	if got := batchTimeout(bc.Defaults, bc.Runs[1]); got != 600 {
		t.Fatalf("timeout = %d, want 600", got)
	}
	if got := runRepeat(bc.Runs[0], bc.Defaults.Repeat); got != 3 {
		t.Fatalf("repeat = %d, want 3", got)
	}

	_, all := loadSample(t)
	web, err := batchTasks(all, bc.Defaults, bc.Runs[1])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids(web), ",") != "web/landing" {
		t.Fatalf("run override categories = %v", ids(web))
	}
}

func TestLoadBatchConfigRejectsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, data := range map[string]string{
		"empty.toml":     "[defaults]\nparallel = 1\n",
		"noagents.toml":  "[[runs]]\nname = \"x\"\n",
		"malformed.toml": "[[runs]\n",
	} {
		p := filepath.Join(dir, name)
		_ = os.WriteFile(p, []byte(data), 0o644)
		if _, err := loadBatchConfig(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestComputeRepeatStats(t *testing.T) {
	t.Parallel()

	mk := func(score float64) *result.Summary {
		return result.Summarize([]result.Entry{{Task: "x", Agent: "claude", Final: score, Weight: 1}}, "t", 1)
	}
	stats := computeRepeatStats("frontier", []*result.Summary{mk(70), mk(80), mk(90)})

	if len(stats) != 1 {
		t.Fatalf("stats = %d, want 1", len(stats))
	}
	s := stats[0]
	if s.Mean != 80 || s.StdDev != 10 || s.Min != 70 || s.Max != 90 {
		t.Fatalf("stats = %+v, want mean 80 sd 10 min 70 max 90", s)
	}
}

func TestMeanStdDevSingle(t *testing.T) {
	t.Parallel()

	mean, sd := meanStdDev([]float64{42.25})
	if mean != 42.3 || sd != 0 {
		t.Fatalf("meanStdDev = %v, %v, want 42.3, 0", mean, sd)
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
		"yes":   true,
	}
	for in, want := range tests {
		if got := confirm(strings.NewReader(in), io.Discard, "? "); got != want {
			t.Fatalf("confirm(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExistingDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	_ = os.WriteFile(file, nil, 0o644)

	got := existingDirs([]string{dir, "", dir, file, filepath.Join(dir, "missing")})
	if len(got) != 1 || got[0] != dir {
		t.Fatalf("existingDirs() = %v, want [%s]", got, dir)
	}
}

func TestPrintChanges(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printChanges(&buf, []task.Change{
		{Kind: task.Added, ID: "api/new", Task: &task.Task{Category: "api", Difficulty: "easy"}},
		{Kind: task.Changed, ID: "api/old"},
		{Kind: task.Removed, ID: "web/gone"},
	})
	out := buf.String()
	for _, want := range []string{"3 task(s) changed", "+ api/new (api, easy)", "~ api/old", "- web/gone"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPriceTableOverrides(t *testing.T) {
	t.Parallel()

	c := config.Default
	c.Pricing = map[string]config.Price{"Claude": {Input: 2, Output: 10}, "local": {Input: 0.1, Output: 0.2}}
	prices := priceTable(&c)

	if got := prices.Lookup("claude").InputPerMillion; got != 2 {
		t.Fatalf("claude input = %v, want 2", got)
	}
	if got := prices.Lookup("local").OutputPerMillion; got != 0.2 {
		t.Fatalf("local output = %v, want 0.2", got)
	}
	if got := prices.Lookup("gemini").InputPerMillion; got != 0.5 {
		t.Fatalf("gemini input = %v, want built-in 0.5", got)
	}
}
