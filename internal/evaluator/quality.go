package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"
)

// QualityRunner lints the workspace with the linter of each language present.
type QualityRunner struct {
	exec Executor
}

// NewQualityRunner creates a quality runner.
func NewQualityRunner(exec Executor) *QualityRunner {
	return &QualityRunner{exec: exec}
}

// linter describes one lint tool and how to count its findings.
type linter struct {
	name  string
	cmd   string
	args  []string
	match func(ext string) bool
	parse func(stdout string) (errors, warnings int)
}

var linters = []linter{
	{
		name:  "eslint",
		cmd:   "npx",
		args:  []string{"eslint", ".", "--format=json"},
		match: func(ext string) bool { return ext == ".ts" || ext == ".tsx" || ext == ".js" || ext == ".jsx" },
		parse: parseESLint,
	},
	{
		name:  "ruff",
		cmd:   "ruff",
		args:  []string{"check", ".", "--output-format=json"},
		match: func(ext string) bool { return ext == ".py" },
		parse: parseRuff,
	},
	{
		name:  "golangci-lint",
		cmd:   "golangci-lint",
		args:  []string{"run", "--out-format=json"},
		match: func(ext string) bool { return ext == ".go" },
		parse: parseGolangci,
	},
}

// Run implements Runner. Score is 100 minus 5 per error and 1 per warning,
// floored at 0. Linters that are missing or fail count nothing.
func (r *QualityRunner) Run(ctx context.Context, opts Options) Result {
	files := sourceFiles(opts.WorkspaceDir)

	var lintErrors, lintWarnings int
	var ran, skipped []string
	for _, l := range linters {
		if !hasFileMatching(files, l.match) {
			continue
		}
		runCtx, cancel := context.WithTimeout(ctx, timeoutOr(opts.Timeout))
		out, err := r.exec.Run(runCtx, opts.WorkspaceDir, l.cmd, l.args...)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrToolUnavailable) && ctx.Err() != nil {
				return failure(err)
			}
			skipped = append(skipped, l.name)
			continue
		}
		e, w := l.parse(out.Stdout)
		lintErrors += e
		lintWarnings += w
		ran = append(ran, l.name)
	}

	score := clamp(float64(MaxScore - 5*lintErrors - lintWarnings))
	return newResult(score, map[string]any{
		"files":         len(files),
		"lint_errors":   lintErrors,
		"lint_warnings": lintWarnings,
		"linters":       ran,
		"skipped":       skipped,
	})
}

func hasFileMatching(files []string, match func(ext string) bool) bool {
	for _, f := range files {
		if match(strings.ToLower(path.Ext(f))) {
			return true
		}
	}
	return false
}

func parseESLint(stdout string) (int, int) {
	var report []struct {
		ErrorCount   int `json:"errorCount"`
		WarningCount int `json:"warningCount"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &report); err != nil {
		return 0, 0
	}
	var e, w int
	for _, f := range report {
		e += f.ErrorCount
		w += f.WarningCount
	}
	return e, w
}

func parseRuff(stdout string) (int, int) {
	var report []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &report); err != nil {
		return 0, 0
	}
	return len(report), 0
}

func parseGolangci(stdout string) (int, int) {
	var report struct {
		Issues []json.RawMessage `json:"Issues"`
	}
	if !decodeEmbeddedJSON(stdout, &report) {
		return 0, 0
	}
	return len(report.Issues), 0
}
