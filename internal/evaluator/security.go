package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Severity levels, most severe first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// SemgrepConfig is the rule pack the security runner scans with.
const SemgrepConfig = "p/owasp-top-ten"

// Issue is one security finding.
type Issue struct {
	Severity string `json:"severity"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s %s:%d: %s", i.Severity, i.Rule, i.File, i.Line, i.Message)
}

// SecurityReport is a security scan outcome. Passed is false when any
// critical or high finding exists, or when the scan could not run and the
// runner fails closed.
type SecurityReport struct {
	Result
	Passed bool
	Issues []Issue
}

// SecurityRunner scans the workspace with semgrep.
type SecurityRunner struct {
	exec     Executor
	failOpen bool
}

// NewSecurityRunner creates a security runner. With failOpen an unavailable
// scanner passes the gate; otherwise it fails it.
func NewSecurityRunner(exec Executor, failOpen bool) *SecurityRunner {
	return &SecurityRunner{exec: exec, failOpen: failOpen}
}

// Run implements Runner.
func (r *SecurityRunner) Run(ctx context.Context, opts Options) Result {
	return r.Scan(ctx, opts).Result
}

// Scan runs semgrep and grades its findings: any critical or high issue
// scores 0; otherwise each medium costs 10 points and each low 5.
func (r *SecurityRunner) Scan(ctx context.Context, opts Options) SecurityReport {
	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(opts.Timeout))
	defer cancel()

	out, err := r.exec.Run(runCtx, opts.WorkspaceDir, "semgrep", "--config="+SemgrepConfig, "--json", opts.WorkspaceDir)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, ErrToolUnavailable) {
			reason = "semgrep not available"
		}
		if r.failOpen {
			return SecurityReport{
				Result: newResult(MaxScore, map[string]any{"skipped": true, "reason": reason}),
				Passed: true,
			}
		}
		return SecurityReport{
			Result: newResult(0, map[string]any{"skipped": true, "reason": reason}),
			Passed: false,
		}
	}

	issues := parseSemgrep(out.Stdout)
	blocking := 0
	deduction := 0
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical, SeverityHigh:
			blocking++
		case SeverityMedium:
			deduction += 10
		case SeverityLow:
			deduction += 5
		}
	}

	if blocking > 0 {
		return SecurityReport{
			Result: newResult(0, map[string]any{"passed": false, "critical": blocking, "total": len(issues)}),
			Passed: false,
			Issues: issues,
		}
	}
	return SecurityReport{
		Result: newResult(clamp(float64(MaxScore-deduction)), map[string]any{"passed": true, "issues": len(issues)}),
		Passed: true,
		Issues: issues,
	}
}

func parseSemgrep(stdout string) []Issue {
	var report struct {
		Results []struct {
			CheckID string `json:"check_id"`
			Path    string `json:"path"`
			Start   struct {
				Line int `json:"line"`
			} `json:"start"`
			Extra struct {
				Message  string `json:"message"`
				Severity string `json:"severity"`
			} `json:"extra"`
		} `json:"results"`
	}
	if !decodeEmbeddedJSON(stdout, &report) {
		return nil
	}

	issues := make([]Issue, 0, len(report.Results))
	for _, res := range report.Results {
		issues = append(issues, Issue{
			Severity: MapSeverity(res.Extra.Severity),
			Rule:     res.CheckID,
			Message:  res.Extra.Message,
			File:     res.Path,
			Line:     res.Start.Line,
		})
	}
	return issues
}

// MapSeverity folds scanner severities onto the five levels. Semgrep's ERROR
// counts as critical and WARNING as high.
func MapSeverity(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "critical"), strings.Contains(s, "error"):
		return SeverityCritical
	case strings.Contains(s, "high"), strings.Contains(s, "warning"):
		return SeverityHigh
	case strings.Contains(s, "medium"):
		return SeverityMedium
	case strings.Contains(s, "low"):
		return SeverityLow
	}
	return SeverityInfo
}
