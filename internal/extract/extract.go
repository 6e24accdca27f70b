// Package extract pulls fenced code blocks out of model output and decides
// which workspace file each block belongs to.
package extract

import (
	"regexp"
	"strings"
)

// Block is one fenced code block.
type Block struct {
	Filename string // empty when no plausible path could be found
	Language string
	Code     string
}

var (
	fencePattern = regexp.MustCompile("```([\\w+#.-]+)?(?:[ \\t]+(\\S+))?[ \\t]*\\n([\\s\\S]*?)```")
	// A path-like token in a leading comment: "// src/app.ts", "# main.py", "/* index.js".
	commentPathPattern = regexp.MustCompile(`^(?://|#|/\*)\s*(\S+\.\w+)`)
)

// DefaultFilenames maps a fence language to the file used when the block
// names no path.
var DefaultFilenames = map[string]string{
	"typescript": "index.ts",
	"javascript": "index.js",
	"python":     "main.py",
	"go":         "main.go",
	"rust":       "src/main.rs",
	"tsx":        "App.tsx",
	"jsx":        "App.jsx",
}

// Extract returns the fenced code blocks of text in order of appearance.
func Extract(text string) []Block {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	blocks := make([]Block, 0, len(matches))

	for _, m := range matches {
		lang, name, code := m[1], m[2], strings.TrimSpace(m[3])
		if name == "" {
			name = InferFilename(lang, code)
		}
		if !IsPlausibleFilename(name) {
			name = ""
		}
		blocks = append(blocks, Block{Filename: name, Language: lang, Code: code})
	}

	return blocks
}

// InferFilename guesses a filename for an unnamed block. Blocks without a
// language get no filename.
func InferFilename(language, code string) string {
	if language == "" {
		return ""
	}
	first, _, _ := strings.Cut(code, "\n")
	if m := commentPathPattern.FindStringSubmatch(strings.TrimSpace(first)); m != nil {
		return m[1]
	}
	return DefaultFilenames[strings.ToLower(language)]
}

// IsPlausibleFilename rejects directory-like names and bare words such as
// "bash" or "output".
func IsPlausibleFilename(name string) bool {
	if name == "" || strings.HasSuffix(name, "/") {
		return false
	}
	return strings.ContainsAny(name, "./")
}
