package evaluator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FunctionalRunner runs a task's functional tests with the test runner
// implied by the test file's extension.
type FunctionalRunner struct {
	exec Executor
}

// NewFunctionalRunner creates a functional runner.
func NewFunctionalRunner(exec Executor) *FunctionalRunner {
	return &FunctionalRunner{exec: exec}
}

type testCommand struct {
	dir  string
	name string
	args []string
}

func functionalCommand(workspace, testPath string) (testCommand, bool) {
	ext := strings.ToLower(path.Ext(testPath))
	switch ext {
	case ".ts", ".js":
		return testCommand{dir: workspace, name: "npx", args: []string{"vitest", "run", testPath, "--reporter=json"}}, true
	case ".py":
		return testCommand{dir: workspace, name: "python", args: []string{"-m", "pytest", testPath, "--json-report", "--json-report-file=/dev/stdout"}}, true
	case ".go":
		dir := filepath.Join(workspace, filepath.FromSlash(path.Dir(testPath)))
		return testCommand{dir: dir, name: "go", args: []string{"test", "-json", "./..."}}, true
	}
	return testCommand{}, false
}

// Run implements Runner. A zero exit scores 100; otherwise the pass rate is
// recovered from the runner's report.
func (r *FunctionalRunner) Run(ctx context.Context, opts Options) Result {
	cmd, ok := functionalCommand(opts.WorkspaceDir, opts.TestPath)
	if !ok {
		return newResult(0, map[string]any{"error": fmt.Sprintf("unsupported test type: %q", path.Ext(opts.TestPath))})
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(opts.Timeout))
	defer cancel()

	out, err := r.exec.Run(runCtx, cmd.dir, cmd.name, cmd.args...)
	if err != nil {
		if errors.Is(err, ErrToolUnavailable) {
			return newResult(0, map[string]any{"error": cmd.name + " not available", "skipped": true})
		}
		return failure(err)
	}
	if out.ExitCode == 0 {
		return newResult(MaxScore, map[string]any{"passed": true, "output": out.Stdout})
	}

	passed, total := parseTestCounts(out.Stdout, path.Ext(opts.TestPath))
	score := 0.0
	if total > 0 {
		score = round1(float64(passed) / float64(total) * 100)
	}
	return newResult(score, map[string]any{
		"passed": passed,
		"total":  total,
		"output": out.Stdout,
		"error":  out.Stderr,
	})
}

var (
	passedCount = regexp.MustCompile(`(\d+) passed`)
	failedCount = regexp.MustCompile(`(\d+) failed`)
)

// parseTestCounts extracts passed and total test counts from a runner's
// report, falling back to "N passed" / "N failed" in plain text.
func parseTestCounts(output, ext string) (passed, total int) {
	switch strings.ToLower(ext) {
	case ".ts", ".js":
		var report struct {
			NumPassedTests int `json:"numPassedTests"`
			NumTotalTests  int `json:"numTotalTests"`
		}
		if decodeEmbeddedJSON(output, &report) {
			return report.NumPassedTests, report.NumTotalTests
		}
	case ".py":
		var report struct {
			Summary struct {
				Passed int `json:"passed"`
				Total  int `json:"total"`
			} `json:"summary"`
		}
		if decodeEmbeddedJSON(output, &report) {
			return report.Summary.Passed, report.Summary.Total
		}
	case ".go":
		if p, t, ok := goTestCounts(output); ok {
			return p, t
		}
	}
	return regexCounts(output)
}

// decodeEmbeddedJSON decodes the outermost JSON object in s, tolerating log
// lines around it.
func decodeEmbeddedJSON(s string, v any) bool {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return false
	}
	return json.Unmarshal([]byte(s[start:end+1]), v) == nil
}

// goTestCounts tallies per-test pass and fail actions of `go test -json`.
func goTestCounts(output string) (passed, total int, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ev struct {
			Action string `json:"Action"`
			Test   string `json:"Test"`
		}
		if json.Unmarshal(sc.Bytes(), &ev) != nil {
			continue
		}
		ok = true
		if ev.Test == "" {
			continue
		}
		switch ev.Action {
		case "pass":
			passed++
			total++
		case "fail":
			total++
		}
	}
	return passed, total, ok
}

func regexCounts(output string) (passed, total int) {
	if m := passedCount.FindStringSubmatch(output); m != nil {
		passed, _ = strconv.Atoi(m[1])
	}
	failed := 0
	if m := failedCount.FindStringSubmatch(output); m != nil {
		failed, _ = strconv.Atoi(m[1])
	}
	return passed, passed + failed
}
