package errors

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"TypeScript": TypeScript,
		"node":       TypeScript,
		"js":         TypeScript,
		"py":         Python,
		"fastapi":    Python,
		"golang":     Go,
		"go":         Go,
		"cargo":      Rust,
		"Elixir":     "elixir",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLanguageForFile(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"tests/app.test.ts":     TypeScript,
		"App.JSX":               TypeScript,
		"tests/test_convert.py": Python,
		"todo_test.go":          Go,
		"src/lib.rs":            Rust,
		"README.md":             "",
		"Makefile":              "",
	}
	for in, want := range tests {
		if got := LanguageForFile(in); got != want {
			t.Errorf("LanguageForFile(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stack  string
		input  string
		expect string
	}{
		{name: "go race", stack: Go, input: "WARNING: DATA RACE\nRead at 0x00c000", expect: "Race condition detected"},
		{name: "go deadlock", stack: Go, input: "fatal error: all goroutines are asleep - deadlock!", expect: "Deadlock detected"},
		{name: "go undefined", stack: Go, input: "./todo.go:4:2: undefined: FooBar", expect: "Undefined: FooBar"},
		{name: "go failed test", stack: Go, input: "--- FAIL: TestCreateTodo (0.00s)", expect: "Test failed: TestCreateTodo"},
		{name: "go status", stack: "golang", input: "    todo_test.go:31: expected status 201, got 404", expect: "Expected status 201, got 404"},
		{name: "rust moved", stack: Rust, input: "error[E0382]: use of moved value: `x`", expect: "Use of moved value"},
		{name: "rust panic", stack: Rust, input: "thread 'main' panicked at src/main.rs:3:5", expect: "Panic: src/main.rs:3:5"},
		{name: "ts assignable", stack: TypeScript, input: "TS2322: Type 'string' is not assignable to type 'number'", expect: "Type 'string' is not assignable to 'number'"},
		{name: "vitest fail", stack: "vitest", input: " FAIL  tests/app.test.ts > renders", expect: "Test failed: tests/app.test.ts"},
		{name: "js runtime", stack: "js", input: "TypeError: cannot read properties of undefined", expect: "Runtime error: cannot read properties of undefined"},
		{name: "pytest failed", stack: Python, input: "FAILED tests/test_convert.py::test_header - AssertionError", expect: "Test failed: tests/test_convert.py::test_header"},
		{name: "python missing module", stack: "py", input: "ModuleNotFoundError: No module named 'convert'", expect: "Missing module: convert"},
		{name: "pytest assert", stack: Python, input: "E       assert 1 == 2", expect: "Assertion failed: 1 == 2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := NewSummarizer(tc.stack).Summarize(tc.input)
			for _, r := range result {
				if strings.Contains(r, tc.expect) {
					return
				}
			}
			t.Errorf("expected %q in summary, got %v", tc.expect, result)
		})
	}
}

func TestForFile(t *testing.T) {
	t.Parallel()

	got := ForFile("tests/test_convert.py").Summarize("NameError: name 'convert' is not defined")
	if len(got) != 1 || got[0] != "Undefined: convert" {
		t.Fatalf("Summarize() = %v, want [Undefined: convert]", got)
	}
}

func TestSummarizeFallback(t *testing.T) {
	t.Parallel()

	result := NewSummarizer("unknown").Summarize("=== RUN\nline1\n\nline2\nline3\nline4\nline5\nline6\nline7")
	if len(result) != maxFallbackLines {
		t.Fatalf("fallback returned %d lines, want %d: %v", len(result), maxFallbackLines, result)
	}
	if result[0] != "line1" {
		t.Fatalf("result[0] = %q, want line1", result[0])
	}

	// A known stack with no matching pattern also falls back.
	result = NewSummarizer(Go).Summarize("something odd happened")
	if len(result) != 1 || result[0] != "something odd happened" {
		t.Fatalf("Summarize() = %v, want fallback line", result)
	}
}

func TestSummarizeDeduplication(t *testing.T) {
	t.Parallel()

	result := NewSummarizer(Go).Summarize("undefined: Foo\nundefined: Foo\nundefined: Foo")
	if len(result) != 1 {
		t.Fatalf("expected one deduplicated summary, got %v", result)
	}
}
