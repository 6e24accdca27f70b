// Package task provides task descriptors and loading for vcbench.
package task

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DescriptorFile is the file that marks a directory as a task.
const DescriptorFile = "task.yaml"

// Defaults applied to descriptors that omit the field.
const (
	DefaultTimeout    = 300
	DefaultTokenLimit = 100000
	DefaultPromptFile = "PROMPT.md"
	DefaultWeight     = 1.0
)

// ErrNotFound is returned when a task reference matches nothing.
var ErrNotFound = errors.New("task not found")

// Difficulty levels in ascending order.
const (
	Easy   = "easy"
	Medium = "medium"
	Hard   = "hard"
)

var difficultyRank = map[string]int{Easy: 0, Medium: 1, Hard: 2}

// Task is an immutable benchmark task loaded from a task.yaml descriptor.
type Task struct {
	ID          string   `json:"id"                    yaml:"-"`
	Name        string   `json:"name"                  yaml:"name"`
	Category    string   `json:"category"              yaml:"category"`
	Subcategory string   `json:"subcategory,omitempty" yaml:"subcategory"`
	Description string   `json:"description"           yaml:"description"`
	Difficulty  string   `json:"difficulty"            yaml:"difficulty"`
	Stack       string   `json:"stack,omitempty"       yaml:"stack"`
	Timeout     int      `json:"timeout"               yaml:"timeout"`
	TokenLimit  int      `json:"token_limit"           yaml:"tokenLimit"`
	Template    string   `json:"template,omitempty"    yaml:"template"`
	PromptFile  string   `json:"prompt_file"           yaml:"promptFile"`
	Tests       Tests    `json:"tests"                 yaml:"tests"`
	Docker      *Docker  `json:"docker,omitempty"      yaml:"docker"`
	Weight      float64  `json:"weight"                yaml:"weight"`
	Tags        []string `json:"tags,omitempty"        yaml:"tags"`

	// FS and Dir locate the task's files; Dir is slash-separated and relative to FS.
	FS  fs.FS  `json:"-" yaml:"-"`
	Dir string `json:"-" yaml:"-"`
}

// Tests names the check files of a task, relative to the task directory.
type Tests struct {
	Functional string `json:"functional,omitempty" yaml:"functional"`
	Visual     string `json:"visual,omitempty"     yaml:"visual"`
	Security   string `json:"security,omitempty"   yaml:"security"`
}

// Docker holds optional container settings for a task.
type Docker struct {
	Compose string `json:"compose,omitempty" yaml:"compose"`
	Image   string `json:"image,omitempty"   yaml:"image"`
}

// HasTag reports whether the task carries the tag.
func (t *Task) HasTag(tag string) bool {
	return slices.Contains(t.Tags, tag)
}

// Validate checks that required task fields are present and well-formed.
func (t *Task) Validate() error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.Category == "" {
		return errors.New("task category is required")
	}
	if t.Description == "" {
		return errors.New("task description is required")
	}
	if _, ok := difficultyRank[t.Difficulty]; !ok {
		return fmt.Errorf("task difficulty %q must be one of easy, medium, hard", t.Difficulty)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("task timeout must not be negative, got %d", t.Timeout)
	}
	if t.TokenLimit < 0 {
		return fmt.Errorf("task tokenLimit must not be negative, got %d", t.TokenLimit)
	}
	if t.Weight < 0 {
		return fmt.Errorf("task weight must not be negative, got %v", t.Weight)
	}
	for _, p := range []string{t.PromptFile, t.Tests.Functional, t.Tests.Visual, t.Tests.Security} {
		if p != "" && !fs.ValidPath(path.Clean(p)) {
			return fmt.Errorf("task path %q must be relative to the task directory", p)
		}
	}
	return nil
}

// Parse decodes a descriptor and applies defaults.
func Parse(data []byte) (*Task, error) {
	var t Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing task descriptor: %w", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Task) applyDefaults() {
	t.Difficulty = strings.ToLower(strings.TrimSpace(t.Difficulty))
	if t.Timeout == 0 {
		t.Timeout = DefaultTimeout
	}
	if t.TokenLimit == 0 {
		t.TokenLimit = DefaultTokenLimit
	}
	if t.PromptFile == "" {
		t.PromptFile = DefaultPromptFile
	}
	if t.Weight == 0 {
		t.Weight = DefaultWeight
	}
}

// Loader discovers tasks under a root directory of an fs.FS.
type Loader struct {
	fsys fs.FS
	root string
}

// NewLoader creates a loader over fsys rooted at root ("." for the FS root).
func NewLoader(fsys fs.FS, root string) *Loader {
	if root == "" {
		root = "."
	}
	return &Loader{fsys: fsys, root: path.Clean(root)}
}

// LoadAll walks the tree and loads every task. Descent stops at a directory
// holding a descriptor; hidden directories are skipped.
func (l *Loader) LoadAll() ([]*Task, error) {
	var tasks []*Task

	err := fs.WalkDir(l.fsys, l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == l.root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != l.root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}

		data, err := fs.ReadFile(l.fsys, path.Join(p, DescriptorFile))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", path.Join(p, DescriptorFile), err)
		}

		t, err := Parse(data)
		if err != nil {
			return fmt.Errorf("invalid task %s: %w", p, err)
		}
		t.ID = l.relID(p)
		t.FS = l.fsys
		t.Dir = p
		tasks = append(tasks, t)
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	Sort(tasks)
	return tasks, nil
}

// Load loads a single task by reference.
func (l *Loader) Load(ref string) (*Task, error) {
	tasks, err := l.LoadAll()
	if err != nil {
		return nil, err
	}
	return ResolveRef(tasks, ref)
}

// Categories returns the distinct categories present, sorted.
func (l *Loader) Categories() ([]string, error) {
	tasks, err := l.LoadAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, t := range tasks {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *Loader) relID(p string) string {
	if l.root == "." {
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, l.root), "/")
}

// ReadFile reads a file from the task's directory.
func (t *Task) ReadFile(name string) ([]byte, error) {
	if t.FS == nil {
		return nil, fmt.Errorf("task %s has no backing filesystem", t.ID)
	}
	return fs.ReadFile(t.FS, path.Join(t.Dir, name))
}

// Files lists every regular file in the task directory, slash-separated and
// relative to it, in lexical order.
func Files(t *Task) ([]string, error) {
	if t.FS == nil {
		return nil, fmt.Errorf("task %s has no backing filesystem", t.ID)
	}
	var files []string
	err := fs.WalkDir(t.FS, t.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel := strings.TrimPrefix(strings.TrimPrefix(p, t.Dir), "/")
			if t.Dir == "." {
				rel = p
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing task %s: %w", t.ID, err)
	}
	sort.Strings(files)
	return files, nil
}

// Sort orders tasks by category, then difficulty, then id.
func Sort(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if ra, rb := difficultyRank[a.Difficulty], difficultyRank[b.Difficulty]; ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})
}

// Filter selects tasks for a sweep. Zero values match everything.
type Filter struct {
	Categories   []string
	Difficulties []string
	Tags         []string
	Limit        int
}

// Apply returns the tasks matching every non-empty criterion.
func (f Filter) Apply(tasks []*Task) []*Task {
	var out []*Task
	for _, t := range tasks {
		if len(f.Categories) > 0 && !slices.Contains(f.Categories, t.Category) {
			continue
		}
		if len(f.Difficulties) > 0 && !slices.Contains(f.Difficulties, t.Difficulty) {
			continue
		}
		if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, t.HasTag) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// ResolveRef resolves a task reference which can be either:
//   - a full id: "<category>/.../<name>"
//   - a trailing path segment: "<name>" (must be unambiguous)
func ResolveRef(tasks []*Task, ref string) (*Task, error) {
	ref = strings.Trim(strings.TrimSpace(ref), "/")
	if ref == "" {
		return nil, errors.New("task reference is empty")
	}

	var matches []*Task
	for _, t := range tasks {
		if t.ID == ref {
			return t, nil
		}
		if strings.HasSuffix(t.ID, "/"+ref) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, t := range matches {
			ids = append(ids, t.ID)
		}
		sort.Strings(ids)
		return nil, fmt.Errorf("task reference %q is ambiguous; use one of: %s", ref, strings.Join(ids, ", "))
	}
}
