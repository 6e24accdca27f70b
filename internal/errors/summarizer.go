// Package errors condenses test and compiler output into short, readable
// failure lines for reports.
package errors

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Stacks the summarizer understands.
const (
	TypeScript = "typescript"
	Python     = "python"
	Go         = "go"
	Rust       = "rust"
)

// maxFallbackLines bounds the summary when no pattern matches.
const maxFallbackLines = 5

// Pattern is a regex and the summary template it produces; $N refers to the
// Nth capture group.
type Pattern struct {
	Regex   *regexp.Regexp
	Summary string
}

// Summarizer extracts failure summaries from tool output.
type Summarizer struct {
	patterns []Pattern
}

// NewSummarizer creates a summarizer for a stack name. Aliases such as "ts",
// "node", "py" and "golang" are accepted; unknown stacks fall back to the
// leading lines of output.
func NewSummarizer(stack string) *Summarizer {
	return &Summarizer{patterns: patternsByStack[Normalize(stack)]}
}

// ForFile picks a summarizer from a test file's extension.
func ForFile(name string) *Summarizer {
	return NewSummarizer(LanguageForFile(name))
}

// Normalize maps a stack or language alias onto one of the known stacks.
// Unknown values are returned lowercased.
func Normalize(stack string) string {
	s := strings.ToLower(strings.TrimSpace(stack))
	switch s {
	case "ts", "tsx", "js", "jsx", "javascript", "node", "nodejs", "react", "next", "nextjs", "vitest":
		return TypeScript
	case "py", "python3", "pytest", "fastapi", "flask", "django":
		return Python
	case "golang":
		return Go
	case "rs", "cargo":
		return Rust
	}
	return s
}

// LanguageForFile returns the stack implied by a file extension, or "".
func LanguageForFile(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs":
		return TypeScript
	case ".py":
		return Python
	case ".go":
		return Go
	case ".rs":
		return Rust
	}
	return ""
}

// Summarize returns deduplicated summaries in order of first appearance.
func (s *Summarizer) Summarize(output string) []string {
	if len(s.patterns) == 0 {
		return fallbackSummary(output)
	}

	var summaries []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(output, "\n") {
		for _, p := range s.patterns {
			matches := p.Regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			summary := p.Summary
			// Replace higher groups first so $1 does not clobber $10.
			for i := len(matches) - 1; i >= 1; i-- {
				summary = strings.ReplaceAll(summary, "$"+strconv.Itoa(i), strings.TrimSpace(matches[i]))
			}
			if !seen[summary] {
				seen[summary] = true
				summaries = append(summaries, summary)
			}
		}
	}

	if len(summaries) == 0 {
		return fallbackSummary(output)
	}
	return summaries
}

func fallbackSummary(output string) []string {
	var result []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if len(result) >= maxFallbackLines {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "===") || strings.HasPrefix(line, "---") {
			continue
		}
		result = append(result, line)
	}
	return result
}

var patternsByStack = map[string][]Pattern{
	TypeScript: tsPatterns,
	Python:     pyPatterns,
	Go:         goPatterns,
	Rust:       rustPatterns,
}

var goPatterns = []Pattern{
	{regexp.MustCompile(`DATA RACE`), "Race condition detected"},
	{regexp.MustCompile(`fatal error: all goroutines are asleep - deadlock!?`), "Deadlock detected"},
	{regexp.MustCompile(`cannot use (.+) \(.*?\) as (.+)`), "Type mismatch: $1 cannot be used as $2"},
	{regexp.MustCompile(`undefined: (\w+)`), "Undefined: $1"},
	{regexp.MustCompile(`(\w+) declared (and|but) not used`), "Unused variable: $1"},
	{regexp.MustCompile(`"(.+)" imported and not used`), "Unused import: $1"},
	{regexp.MustCompile(`missing return`), "Missing return statement"},
	{regexp.MustCompile(`panic: (.+)`), "Panic: $1"},
	{regexp.MustCompile(`--- FAIL: (\S+)`), "Test failed: $1"},
	{regexp.MustCompile(`^FAIL\s+(\S+)\s+[\d.]+s`), "Package failed: $1"},
	{regexp.MustCompile(`expected status (\d+), got (\d+)`), "Expected status $1, got $2"},
}

var rustPatterns = []Pattern{
	{regexp.MustCompile(`error\[E0382\]`), "Use of moved value (borrow checker)"},
	{regexp.MustCompile(`error\[E0502\]`), "Cannot borrow as mutable while borrowed as immutable"},
	{regexp.MustCompile(`error\[E0308\]`), "Mismatched types"},
	{regexp.MustCompile(`error\[E0425\]`), "Cannot find value in scope"},
	{regexp.MustCompile(`error\[E0433\]`), "Failed to resolve module/type"},
	{regexp.MustCompile(`error\[E0599\]`), "Method not found"},
	{regexp.MustCompile(`thread '.+' panicked at (.+)`), "Panic: $1"},
	{regexp.MustCompile(`test (\S+) \.\.\. FAILED`), "Test failed: $1"},
}

var tsPatterns = []Pattern{
	{regexp.MustCompile(`TS2322: Type '(.+?)' is not assignable to type '(.+?)'`), "Type '$1' is not assignable to '$2'"},
	{regexp.MustCompile(`TS2339: Property '(.+?)' does not exist on type '(.+?)'`), "Property '$1' does not exist on type '$2'"},
	{regexp.MustCompile(`TS2304: Cannot find name '(.+?)'`), "Cannot find name '$1'"},
	{regexp.MustCompile(`TS2307: Cannot find module '(.+?)'`), "Cannot find module '$1'"},
	{regexp.MustCompile(`TS7006: Parameter '(.+?)' implicitly has an 'any' type`), "Parameter '$1' needs type annotation"},
	{regexp.MustCompile(`AssertionError: (.+)`), "Assertion failed: $1"},
	{regexp.MustCompile(`(?:^|\s)FAIL\s+(\S+)`), "Test failed: $1"},
	{regexp.MustCompile(`×\s+(.+)`), "Test failed: $1"},
	{regexp.MustCompile(`(?:TypeError|ReferenceError|SyntaxError): (.+)`), "Runtime error: $1"},
	{regexp.MustCompile(`Cannot find module '(.+?)'`), "Cannot find module '$1'"},
}

var pyPatterns = []Pattern{
	{regexp.MustCompile(`^FAILED (\S+)(?: - (.+))?`), "Test failed: $1"},
	{regexp.MustCompile(`^ERROR (\S+)`), "Test error: $1"},
	{regexp.MustCompile(`ModuleNotFoundError: No module named '(.+?)'`), "Missing module: $1"},
	{regexp.MustCompile(`ImportError: (.+)`), "Import error: $1"},
	{regexp.MustCompile(`NameError: name '(.+?)' is not defined`), "Undefined: $1"},
	{regexp.MustCompile(`AttributeError: (.+)`), "Attribute error: $1"},
	{regexp.MustCompile(`TypeError: (.+)`), "Type error: $1"},
	{regexp.MustCompile(`SyntaxError: (.+)`), "Syntax error: $1"},
	{regexp.MustCompile(`IndentationError: (.+)`), "Indentation error: $1"},
	{regexp.MustCompile(`^E\s+assert (.+)`), "Assertion failed: $1"},
}
