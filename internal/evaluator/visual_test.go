package evaluator

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func savePNG(t *testing.T, p string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 255, A: 255}
)

func TestCompareImages(t *testing.T) {
	t.Parallel()

	a := solid(10, 10, white)
	b := solid(10, 10, white)

	n, diff, err := CompareImages(a, b, DefaultThreshold)
	if err != nil {
		t.Fatalf("CompareImages() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("identical images: mismatched = %d, want 0", n)
	}
	if got := diff.Bounds(); got != image.Rect(0, 0, 10, 10) {
		t.Fatalf("diff bounds = %v, want 10x10", got)
	}

	b.SetNRGBA(4, 4, red)
	n, diff, err = CompareImages(a, b, DefaultThreshold)
	if err != nil {
		t.Fatalf("CompareImages() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("one red pixel: mismatched = %d, want 1", n)
	}
	if r, g, _, _ := diff.At(4, 4).RGBA(); r>>8 != 255 || g>>8 != 0 {
		t.Fatalf("diff pixel = %v, want red", diff.At(4, 4))
	}

	// A barely different shade stays under the threshold.
	c := solid(10, 10, white)
	c.SetNRGBA(2, 2, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
	if n, _, _ = CompareImages(a, c, DefaultThreshold); n != 0 {
		t.Fatalf("near-white pixel: mismatched = %d, want 0", n)
	}
}

func TestCompareImagesSizeMismatch(t *testing.T) {
	t.Parallel()

	if _, _, err := CompareImages(solid(4, 4, white), solid(5, 4, white), DefaultThreshold); err == nil {
		t.Fatal("CompareImages() with different sizes returned nil error")
	}
}

func TestVisualRunner(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ref := filepath.Join(dir, "reference.png")
	capture := filepath.Join(dir, "screenshots", "reference.png")

	b := solid(10, 10, white)
	b.SetNRGBA(0, 0, red)
	savePNG(t, ref, solid(10, 10, white))
	savePNG(t, capture, b)

	res := NewVisualRunner(0, nil).Run(context.Background(), Options{ReferenceImage: ref, CapturedImage: capture})

	if res.Score != 99.0 {
		t.Fatalf("Score = %v, want 99", res.Score)
	}
	if got := res.Details["mismatched_pixels"]; got != 1 {
		t.Fatalf("mismatched_pixels = %v, want 1", got)
	}
	if got := res.Details["total_pixels"]; got != 100 {
		t.Fatalf("total_pixels = %v, want 100", got)
	}
	want := filepath.Join(dir, "screenshots", "reference.diff.png")
	if got := res.Details["diff_image"]; got != want {
		t.Fatalf("diff_image = %v, want %s", got, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("diff image not written: %v", err)
	}
}

func TestVisualRunnerDimensionMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.png")
	capture := filepath.Join(dir, "cap.png")
	savePNG(t, ref, solid(10, 10, white))
	savePNG(t, capture, solid(12, 10, white))

	res := NewVisualRunner(0, nil).Run(context.Background(), Options{ReferenceImage: ref, CapturedImage: capture})

	if res.Score != 0 {
		t.Fatalf("Score = %v, want 0", res.Score)
	}
	if got, want := res.Details["reference"], map[string]int{"width": 10, "height": 10}; !reflect.DeepEqual(got, want) {
		t.Fatalf("reference = %v, want %v", got, want)
	}
	if got, want := res.Details["captured"], map[string]int{"width": 12, "height": 10}; !reflect.DeepEqual(got, want) {
		t.Fatalf("captured = %v, want %v", got, want)
	}
}

func TestVisualRunnerMissingCapture(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.png")
	savePNG(t, ref, solid(4, 4, white))

	res := NewVisualRunner(0, nil).Run(context.Background(), Options{ReferenceImage: ref, CapturedImage: filepath.Join(dir, "missing.png")})
	if res.Score != 0 {
		t.Fatalf("Score = %v, want 0", res.Score)
	}
	if got := fmt.Sprint(res.Details["error"]); !strings.Contains(got, "opening image") {
		t.Fatalf("error = %q, want it to mention opening image", got)
	}
}

func TestVisualRunnerResponsive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ref := filepath.Join(dir, "home.png")
	capture := filepath.Join(dir, "shots", "home.png")

	savePNG(t, BreakpointPath(ref, 375), solid(6, 6, white))
	savePNG(t, BreakpointPath(capture, 375), solid(6, 6, white))
	savePNG(t, BreakpointPath(ref, 768), solid(6, 6, white))

	res := NewVisualRunner(0, []int{375, 768}).RunResponsive(context.Background(), Options{ReferenceImage: ref, CapturedImage: capture})

	if res.Score != 50.0 {
		t.Fatalf("Score = %v, want 50", res.Score)
	}
	bps, ok := res.Details["breakpoints"].([]map[string]any)
	if !ok || len(bps) != 2 {
		t.Fatalf("breakpoints = %#v, want two entries", res.Details["breakpoints"])
	}
	if bps[0]["score"] != 100.0 || bps[1]["score"] != 0.0 {
		t.Fatalf("breakpoint scores = %v, %v, want 100, 0", bps[0]["score"], bps[1]["score"])
	}
}

func TestImagePaths(t *testing.T) {
	t.Parallel()

	if got := BreakpointPath("shots/home.png", 768); got != "shots/home-768.png" {
		t.Fatalf("BreakpointPath() = %q", got)
	}
	if got := DiffPath("shots/home.png"); got != "shots/home.diff.png" {
		t.Fatalf("DiffPath() = %q", got)
	}
}
