package evaluator

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/orisano/pixelmatch"
)

// DefaultThreshold is the per-pixel color distance tolerance in [0,1].
const DefaultThreshold = 0.1

// DefaultBreakpoints are the viewport widths of a responsive comparison.
var DefaultBreakpoints = []int{375, 768, 1440}

// VisualRunner compares a captured screenshot against a reference PNG.
type VisualRunner struct {
	threshold   float64
	breakpoints []int
}

// NewVisualRunner creates a visual runner. Non-positive thresholds and empty
// breakpoint lists select the defaults.
func NewVisualRunner(threshold float64, breakpoints []int) *VisualRunner {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if len(breakpoints) == 0 {
		breakpoints = DefaultBreakpoints
	}
	return &VisualRunner{threshold: threshold, breakpoints: breakpoints}
}

// Run implements Runner. The score is the share of matching pixels rounded to
// one decimal; a diff image is written next to the capture.
func (r *VisualRunner) Run(_ context.Context, opts Options) Result {
	ref, err := readPNG(opts.ReferenceImage)
	if err != nil {
		return failure(err)
	}
	captured, err := readPNG(opts.CapturedImage)
	if err != nil {
		return failure(err)
	}

	rb, cb := ref.Bounds(), captured.Bounds()
	if rb.Dx() != cb.Dx() || rb.Dy() != cb.Dy() {
		return newResult(0, map[string]any{
			"error":     "image dimensions do not match",
			"reference": map[string]int{"width": rb.Dx(), "height": rb.Dy()},
			"captured":  map[string]int{"width": cb.Dx(), "height": cb.Dy()},
		})
	}

	mismatched, diff, err := CompareImages(ref, captured, r.threshold)
	if err != nil {
		return failure(err)
	}
	total := rb.Dx() * rb.Dy()
	match := 100.0
	if total > 0 {
		match = float64(total-mismatched) / float64(total) * 100
	}

	details := map[string]any{
		"mismatched_pixels": mismatched,
		"total_pixels":      total,
		"match_percentage":  match,
	}
	diffPath := DiffPath(opts.CapturedImage)
	if err := writePNG(diffPath, diff); err != nil {
		details["diff_error"] = err.Error()
	} else {
		details["diff_image"] = diffPath
	}
	return newResult(round1(match), details)
}

// RunResponsive compares one image pair per breakpoint, named
// "<name>-<width>.png", and averages the scores. Missing pairs score 0.
func (r *VisualRunner) RunResponsive(ctx context.Context, opts Options) Result {
	perBreakpoint := make([]map[string]any, 0, len(r.breakpoints))
	sum := 0.0
	for _, bp := range r.breakpoints {
		refImage := BreakpointPath(opts.ReferenceImage, bp)
		capImage := BreakpointPath(opts.CapturedImage, bp)

		score := 0.0
		if fileExists(refImage) && fileExists(capImage) {
			bpOpts := opts
			bpOpts.ReferenceImage, bpOpts.CapturedImage = refImage, capImage
			score = r.Run(ctx, bpOpts).Score
		}
		sum += score
		perBreakpoint = append(perBreakpoint, map[string]any{"breakpoint": bp, "score": score})
	}

	avg := 0.0
	if len(r.breakpoints) > 0 {
		avg = sum / float64(len(r.breakpoints))
	}
	return newResult(round1(avg), map[string]any{"breakpoints": perBreakpoint})
}

// DiffPath is where the diff image of a capture is written.
func DiffPath(captured string) string {
	return strings.TrimSuffix(captured, filepath.Ext(captured)) + ".diff.png"
}

// BreakpointPath inserts "-<width>" before the extension of p.
func BreakpointPath(p string, width int) string {
	ext := filepath.Ext(p)
	return strings.TrimSuffix(p, ext) + "-" + strconv.Itoa(width) + ext
}

func readPNG(p string) (image.Image, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(p), err)
	}
	return img, nil
}

func writePNG(p string, img image.Image) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// CompareImages counts the pixels of a and b whose perceptual distance
// exceeds threshold, ignoring anti-aliased edges, and renders a diff image
// with mismatches in red. Both images must have the same size.
func CompareImages(a, b image.Image, threshold float64) (int, image.Image, error) {
	var diff image.Image
	n, err := pixelmatch.MatchPixel(a, b, pixelmatch.Threshold(threshold), pixelmatch.WriteTo(&diff))
	if err != nil {
		return 0, nil, fmt.Errorf("comparing images: %w", err)
	}
	return n, diff, nil
}
