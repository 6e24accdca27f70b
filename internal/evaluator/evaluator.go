// Package evaluator scores a finished execution. Independent runners measure
// functional correctness, visual fidelity, code quality and security by
// driving external tools; the Evaluator combines their scores with cost and
// speed into a weighted final score.
package evaluator

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vibecodingbench/vcbench/internal/toolexec"
)

// MaxScore is the upper bound of every runner score.
const MaxScore = 100

// DefaultToolTimeout bounds one external tool invocation.
const DefaultToolTimeout = 60 * time.Second

// Executor runs the external tools. Tests substitute a fake.
type Executor = toolexec.Executor

// ErrToolUnavailable is reported when a linter, scanner or test runner is not
// installed.
var ErrToolUnavailable = toolexec.ErrUnavailable

// Options parameterizes a runner invocation.
type Options struct {
	WorkspaceDir   string
	TestPath       string // relative to WorkspaceDir
	ReferenceImage string
	CapturedImage  string
	Timeout        time.Duration
}

// Result is a runner's verdict. Details carries runner-specific diagnostics.
type Result struct {
	Score    float64        `json:"score"`
	MaxScore float64        `json:"max_score"`
	Details  map[string]any `json:"details,omitempty"`
}

// Runner is one scoring dimension.
type Runner interface {
	Run(ctx context.Context, opts Options) Result
}

func newResult(score float64, details map[string]any) Result {
	if details == nil {
		details = map[string]any{}
	}
	return Result{Score: score, MaxScore: MaxScore, Details: details}
}

func failure(err error) Result {
	return newResult(0, map[string]any{"error": err.Error()})
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultToolTimeout
	}
	return d
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(MaxScore, v))
}

// sourceExtensions are the files the quality runner counts.
var sourceExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".go": true, ".rs": true,
}

// sourceFiles lists source files under dir as slash-separated relative paths,
// skipping hidden entries and dependency directories.
func sourceFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if p == dir {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || name == "node_modules" || name == "__pycache__" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !sourceExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if rel, err := filepath.Rel(dir, p); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	return files
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
