package evaluator

import (
	"context"
	"log/slog"
	"math"
	"path"
	"path/filepath"
	"time"

	"github.com/vibecodingbench/vcbench/internal/result"
	"github.com/vibecodingbench/vcbench/internal/task"
)

// Weights are the contributions of each subscore to the final score.
type Weights struct {
	Functional float64
	Visual     float64
	Quality    float64
	Cost       float64
	Speed      float64
}

// DefaultWeights sum to 1.
var DefaultWeights = Weights{Functional: 0.40, Visual: 0.20, Quality: 0.20, Cost: 0.10, Speed: 0.10}

// DefaultCostCeiling is the run cost in USD that maps to a cost score of 0.
const DefaultCostCeiling = 1.0

// ScreenshotDir is the workspace directory captured screenshots are read
// from, under the reference image's base name.
const ScreenshotDir = "screenshots"

// ResponsiveTag marks tasks whose visual check runs once per breakpoint.
const ResponsiveTag = "responsive"

// Config tunes an Evaluator.
type Config struct {
	Weights          Weights
	CostCeiling      float64
	SecurityFailOpen bool
	VisualThreshold  float64
	Breakpoints      []int
	ToolTimeout      time.Duration
}

// Evaluator scores executions.
type Evaluator struct {
	functional Runner
	quality    Runner
	security   *SecurityRunner
	visual     *VisualRunner
	cfg        Config
	logger     *slog.Logger
}

// New creates an evaluator whose runners share exec.
func New(exec Executor, cfg Config, logger *slog.Logger) *Evaluator {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.CostCeiling <= 0 {
		cfg.CostCeiling = DefaultCostCeiling
	}
	return &Evaluator{
		functional: NewFunctionalRunner(exec),
		quality:    NewQualityRunner(exec),
		security:   NewSecurityRunner(exec, cfg.SecurityFailOpen),
		visual:     NewVisualRunner(cfg.VisualThreshold, cfg.Breakpoints),
		cfg:        cfg,
		logger:     logger,
	}
}

// Evaluate scores one execution of t whose files live in dir. A failed
// security gate or a failed execution zeroes the final score.
func (e *Evaluator) Evaluate(ctx context.Context, t *task.Task, exec *result.Execution, dir string) result.Scores {
	succeeded := exec != nil && exec.Success

	sec := e.security.Scan(ctx, e.options(dir))
	scores := result.Scores{
		Functional: e.functionalScore(ctx, t, succeeded, dir),
		Visual:     e.visualScore(ctx, t, dir),
		Quality:    e.quality.Run(ctx, e.options(dir)).Score,
		Security:   result.Security{Passed: sec.Passed, Issues: issueStrings(sec.Issues)},
	}
	if exec != nil {
		scores.Cost = CostScore(exec.Metrics.Cost, e.cfg.CostCeiling)
		scores.Speed = SpeedScore(exec.Metrics.Duration, taskTimeout(t))
	}

	if succeeded && sec.Passed {
		w := e.cfg.Weights
		scores.Final = round1(scores.Functional*w.Functional +
			scores.Visual*w.Visual +
			scores.Quality*w.Quality +
			scores.Cost*w.Cost +
			scores.Speed*w.Speed)
	}

	e.logger.Debug("execution scored",
		"task", t.ID,
		"functional", scores.Functional,
		"visual", scores.Visual,
		"quality", scores.Quality,
		"cost", scores.Cost,
		"speed", scores.Speed,
		"security_passed", scores.Security.Passed,
		"final", scores.Final,
	)
	return scores
}

func (e *Evaluator) options(dir string) Options {
	return Options{WorkspaceDir: dir, Timeout: e.cfg.ToolTimeout}
}

func (e *Evaluator) functionalScore(ctx context.Context, t *task.Task, succeeded bool, dir string) float64 {
	if !succeeded {
		return 0
	}
	if t.Tests.Functional == "" {
		return MaxScore
	}
	opts := e.options(dir)
	opts.TestPath = path.Clean(t.Tests.Functional)
	return e.functional.Run(ctx, opts).Score
}

func (e *Evaluator) visualScore(ctx context.Context, t *task.Task, dir string) float64 {
	if t.Tests.Visual == "" {
		return MaxScore
	}
	opts := e.options(dir)
	opts.ReferenceImage = filepath.Join(dir, filepath.FromSlash(t.Tests.Visual))
	opts.CapturedImage = filepath.Join(dir, ScreenshotDir, path.Base(t.Tests.Visual))
	if t.HasTag(ResponsiveTag) {
		return e.visual.RunResponsive(ctx, opts).Score
	}
	return e.visual.Run(ctx, opts).Score
}

// CostScore maps a run cost onto [0,100]: free is 100, ceiling or more is 0.
func CostScore(cost, ceiling float64) float64 {
	if ceiling <= 0 {
		ceiling = DefaultCostCeiling
	}
	return math.Round(clamp(100 - cost/ceiling*100))
}

// SpeedScore maps a duration onto [0,100] relative to the task timeout.
func SpeedScore(d, timeout time.Duration) float64 {
	if timeout <= 0 {
		return 0
	}
	return math.Round(clamp(100 - float64(d)/float64(timeout)*100))
}

func taskTimeout(t *task.Task) time.Duration {
	if t.Timeout > 0 {
		return time.Duration(t.Timeout) * time.Second
	}
	return task.DefaultTimeout * time.Second
}

func issueStrings(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.String())
	}
	return out
}
