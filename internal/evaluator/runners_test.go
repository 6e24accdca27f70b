package evaluator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/vibecodingbench/vcbench/internal/toolexec"
)

type call struct {
	dir  string
	name string
	args []string
}

// fakeExec answers tool invocations from a handler and records them.
type fakeExec struct {
	mu      sync.Mutex
	calls   []call
	handler func(c call) (toolexec.Output, error)
}

func (f *fakeExec) Run(_ context.Context, dir, name string, args ...string) (toolexec.Output, error) {
	c := call{dir: dir, name: name, args: args}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.handler == nil {
		return toolexec.Output{}, fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}
	return f.handler(c)
}

func (f *fakeExec) ran(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.name == name || (len(c.args) > 0 && c.args[0] == name) {
			return true
		}
	}
	return false
}

func respond(stdout string, exitCode int) func(call) (toolexec.Output, error) {
	return func(call) (toolexec.Output, error) {
		return toolexec.Output{Stdout: stdout, ExitCode: exitCode}, nil
	}
}

func writeFiles(t *testing.T, dir string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFunctionalRunner(t *testing.T) {
	t.Parallel()

	goEvents := strings.Join([]string{
		`{"Action":"run","Test":"TestA"}`,
		`{"Action":"pass","Test":"TestA"}`,
		`{"Action":"pass","Test":"TestB"}`,
		`{"Action":"fail","Test":"TestC"}`,
		`{"Action":"fail"}`,
	}, "\n")

	tests := []struct {
		name     string
		testPath string
		stdout   string
		exitCode int
		want     float64
		wantCmd  string
	}{
		{name: "all pass", testPath: "tests/app.test.ts", exitCode: 0, want: 100, wantCmd: "npx vitest run tests/app.test.ts --reporter=json"},
		{name: "vitest report", testPath: "tests/app.test.ts", stdout: `{"numPassedTests":3,"numTotalTests":4}`, exitCode: 1, want: 75},
		{name: "pytest report", testPath: "tests/test_api.py", stdout: "collected 3 items\n" + `{"summary":{"passed":1,"total":3}}`, exitCode: 1, want: 33.3,
			wantCmd: "python -m pytest tests/test_api.py --json-report --json-report-file=/dev/stdout"},
		{name: "go test json", testPath: "main_test.go", stdout: goEvents, exitCode: 1, want: 66.7, wantCmd: "go test -json ./..."},
		{name: "plain text fallback", testPath: "app.test.js", stdout: "Tests 2 passed, 2 failed", exitCode: 1, want: 50},
		{name: "no counts", testPath: "app.test.js", stdout: "SyntaxError", exitCode: 1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec := &fakeExec{handler: respond(tt.stdout, tt.exitCode)}
			res := NewFunctionalRunner(exec).Run(context.Background(), Options{WorkspaceDir: "/ws", TestPath: tt.testPath})

			if res.Score != tt.want {
				t.Fatalf("Score = %v, want %v", res.Score, tt.want)
			}
			if res.MaxScore != MaxScore {
				t.Fatalf("MaxScore = %v, want %v", res.MaxScore, MaxScore)
			}
			if tt.wantCmd != "" {
				if len(exec.calls) != 1 {
					t.Fatalf("calls = %d, want 1", len(exec.calls))
				}
				c := exec.calls[0]
				if got := c.name + " " + strings.Join(c.args, " "); got != tt.wantCmd {
					t.Fatalf("command = %q, want %q", got, tt.wantCmd)
				}
			}
		})
	}
}

func TestFunctionalRunnerGoRunsInTestDirectory(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{handler: respond("", 0)}
	NewFunctionalRunner(exec).Run(context.Background(), Options{WorkspaceDir: "/ws", TestPath: "pkg/calc/calc_test.go"})

	if len(exec.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(exec.calls))
	}
	if want := filepath.Join("/ws", "pkg", "calc"); exec.calls[0].dir != want {
		t.Fatalf("dir = %q, want %q", exec.calls[0].dir, want)
	}
}

func TestFunctionalRunnerUnsupportedAndUnavailable(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	runner := NewFunctionalRunner(exec)

	res := runner.Run(context.Background(), Options{WorkspaceDir: "/ws", TestPath: "spec/app_spec.rb"})
	if res.Score != 0 || !strings.Contains(fmt.Sprint(res.Details["error"]), "unsupported test type") {
		t.Fatalf("unsupported: %+v", res)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("calls = %v, want none", exec.calls)
	}

	res = runner.Run(context.Background(), Options{WorkspaceDir: "/ws", TestPath: "test_app.py"})
	if res.Score != 0 || res.Details["skipped"] != true {
		t.Fatalf("unavailable: %+v, want skipped with score 0", res)
	}
}

func TestQualityRunner(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, "src/app.ts", "api/main.py", "cmd/main.go", "node_modules/dep/index.ts", ".cache/x.py", "README.md")

	exec := &fakeExec{handler: func(c call) (toolexec.Output, error) {
		switch c.name {
		case "npx":
			return toolexec.Output{Stdout: `[{"errorCount":1,"warningCount":2},{"errorCount":0,"warningCount":1}]`, ExitCode: 1}, nil
		case "ruff":
			return toolexec.Output{Stdout: `[{"code":"F401"},{"code":"E501"}]`, ExitCode: 1}, nil
		}
		return toolexec.Output{}, fmt.Errorf("%w: %s", ErrToolUnavailable, c.name)
	}}

	res := NewQualityRunner(exec).Run(context.Background(), Options{WorkspaceDir: dir})

	if res.Score != 82 {
		t.Fatalf("Score = %v, want 82", res.Score)
	}
	for _, key := range []string{"files", "lint_errors", "lint_warnings"} {
		if got := res.Details[key]; got != 3 {
			t.Fatalf("%s = %v, want 3", key, got)
		}
	}
	if got := res.Details["skipped"]; !reflect.DeepEqual(got, []string{"golangci-lint"}) {
		t.Fatalf("skipped = %v, want [golangci-lint]", got)
	}
}

func TestQualityRunnerOnlyRunsRelevantLinters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, "main.py")

	exec := &fakeExec{handler: respond("[]", 0)}
	res := NewQualityRunner(exec).Run(context.Background(), Options{WorkspaceDir: dir})

	if res.Score != 100 {
		t.Fatalf("Score = %v, want 100", res.Score)
	}
	if !exec.ran("ruff") || exec.ran("eslint") || exec.ran("golangci-lint") {
		t.Fatalf("calls = %v, want only ruff", exec.calls)
	}
}

func TestQualityRunnerFloorsAtZero(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, "main.go")

	issues := strings.Repeat(`{"FromLinter":"errcheck"},`, 30)
	exec := &fakeExec{handler: respond(`{"Issues":[`+strings.TrimSuffix(issues, ",")+`]}`, 1)}
	res := NewQualityRunner(exec).Run(context.Background(), Options{WorkspaceDir: dir})

	if res.Score != 0 {
		t.Fatalf("Score = %v, want 0", res.Score)
	}
	if got := res.Details["lint_errors"]; got != 30 {
		t.Fatalf("lint_errors = %v, want 30", got)
	}
}

const semgrepReport = `{"results":[
 {"check_id":"python.sqli","path":"app.py","start":{"line":12},"extra":{"message":"SQL injection","severity":"%s"}},
 {"check_id":"python.debug","path":"app.py","start":{"line":3},"extra":{"message":"debug on","severity":"%s"}}
]}`

func TestSecurityRunner(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		severities [2]string
		wantScore  float64
		wantPassed bool
	}{
		{name: "blocking warning", severities: [2]string{"WARNING", "INFO"}, wantScore: 0, wantPassed: false},
		{name: "blocking error", severities: [2]string{"ERROR", "LOW"}, wantScore: 0, wantPassed: false},
		{name: "medium and low", severities: [2]string{"MEDIUM", "LOW"}, wantScore: 85, wantPassed: true},
		{name: "info only", severities: [2]string{"INFO", "INFO"}, wantScore: 100, wantPassed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := fmt.Sprintf(semgrepReport, tt.severities[0], tt.severities[1])
			exec := &fakeExec{handler: respond(out, 1)}
			report := NewSecurityRunner(exec, true).Scan(context.Background(), Options{WorkspaceDir: "/ws"})

			if report.Score != tt.wantScore || report.Passed != tt.wantPassed {
				t.Fatalf("Score, Passed = %v, %v, want %v, %v", report.Score, report.Passed, tt.wantScore, tt.wantPassed)
			}
			if len(report.Issues) != 2 {
				t.Fatalf("Issues = %v, want 2", report.Issues)
			}
			if is := report.Issues[0]; is.Rule != "python.sqli" || is.Line != 12 {
				t.Fatalf("Issues[0] = %+v, want python.sqli at line 12", is)
			}
		})
	}
}

func TestSecurityRunnerCommand(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{handler: respond(`{"results":[]}`, 0)}
	res := NewSecurityRunner(exec, false).Run(context.Background(), Options{WorkspaceDir: "/ws"})

	if res.Score != 100 {
		t.Fatalf("Score = %v, want 100", res.Score)
	}
	if len(exec.calls) != 1 || exec.calls[0].name != "semgrep" {
		t.Fatalf("calls = %v, want one semgrep call", exec.calls)
	}
	if want := []string{"--config=p/owasp-top-ten", "--json", "/ws"}; !reflect.DeepEqual(exec.calls[0].args, want) {
		t.Fatalf("args = %v, want %v", exec.calls[0].args, want)
	}
}

func TestSecurityRunnerUnavailable(t *testing.T) {
	t.Parallel()

	open := NewSecurityRunner(&fakeExec{}, true).Scan(context.Background(), Options{WorkspaceDir: "/ws"})
	if !open.Passed || open.Score != 100 || open.Details["skipped"] != true {
		t.Fatalf("fail-open report = %+v, want skipped pass", open)
	}

	closed := NewSecurityRunner(&fakeExec{}, false).Scan(context.Background(), Options{WorkspaceDir: "/ws"})
	if closed.Passed || closed.Score != 0 {
		t.Fatalf("fail-closed report = %+v, want failure", closed)
	}
}

func TestMapSeverity(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"CRITICAL": SeverityCritical,
		"ERROR":    SeverityCritical,
		"high":     SeverityHigh,
		"WARNING":  SeverityHigh,
		"Medium":   SeverityMedium,
		"low":      SeverityLow,
		"INFO":     SeverityInfo,
		"":         SeverityInfo,
	}
	for in, want := range tests {
		if got := MapSeverity(in); got != want {
			t.Errorf("MapSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIssueString(t *testing.T) {
	t.Parallel()

	is := Issue{Severity: SeverityHigh, Rule: "js.xss", Message: "unescaped output", File: "src/app.ts", Line: 7}
	if got, want := is.String(), "[high] js.xss src/app.ts:7: unescaped output"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
