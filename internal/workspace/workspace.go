// Package workspace manages the per-execution directories agents write into.
package workspace

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/vibecodingbench/vcbench/internal/task"
)

// ErrNotFound is returned for workspace ids the manager does not know.
var ErrNotFound = errors.New("workspace not found")

// IDLength is the number of characters in a workspace id.
const IDLength = 8

// skippedDirs are dependency directories never copied or listed.
var skippedDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
}

// Teardowner releases external resources (containers) tied to a workspace.
type Teardowner interface {
	Teardown(ctx context.Context, dir string)
}

// Manager creates, resolves and destroys workspaces. It is safe for
// concurrent use.
type Manager struct {
	root      string
	templates fs.FS
	logger    *slog.Logger

	mu       sync.RWMutex
	paths    map[string]string
	teardown Teardowner
}

// NewManager creates a manager rooted at root. templates may be nil when no
// task uses a template.
func NewManager(root string, templates fs.FS, logger *slog.Logger) *Manager {
	return &Manager{
		root:      root,
		templates: templates,
		logger:    logger,
		paths:     make(map[string]string),
	}
}

// SetTeardown installs the hook Cleanup uses to stop containers.
func (m *Manager) SetTeardown(t Teardowner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown = t
}

// Create makes a fresh workspace seeded from the task directory and then the
// task's template, and returns its id.
func (m *Manager) Create(t *task.Task) (string, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace root: %w", err)
	}
	root, err := filepath.Abs(m.root)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root: %w", err)
	}

	id, dir, err := m.reserve(root)
	if err != nil {
		return "", err
	}

	if t.FS != nil {
		if err := CopyTree(t.FS, t.Dir, dir); err != nil {
			m.release(id, dir)
			return "", fmt.Errorf("copying task files: %w", err)
		}
	}
	if t.Template != "" && m.templates != nil {
		if err := CopyTree(m.templates, t.Template, dir); err != nil {
			m.release(id, dir)
			return "", fmt.Errorf("copying template %s: %w", t.Template, err)
		}
	}

	m.logger.Debug("workspace created", "id", id, "dir", dir, "task", t.ID)
	return id, nil
}

// reserve picks an unused id and creates its directory under the lock.
func (m *Manager) reserve(root string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for range 16 {
		id := uuid.NewString()[:IDLength]
		if _, taken := m.paths[id]; taken {
			continue
		}
		dir := filepath.Join(root, id)
		if err := os.Mkdir(dir, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", "", fmt.Errorf("creating workspace: %w", err)
		}
		m.paths[id] = dir
		return id, dir, nil
	}
	return "", "", errors.New("could not allocate a unique workspace id")
}

func (m *Manager) release(id, dir string) {
	_ = os.RemoveAll(dir)
	m.mu.Lock()
	delete(m.paths, id)
	m.mu.Unlock()
}

// Path returns the absolute directory of a workspace.
func (m *Manager) Path(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dir, ok := m.paths[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return dir, nil
}

// IDs returns the ids of live workspaces.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.paths))
	for id := range m.paths {
		ids = append(ids, id)
	}
	return ids
}

// Cleanup tears down containers, removes the directory and forgets the id.
// Every step is best effort; unknown ids are ignored.
func (m *Manager) Cleanup(ctx context.Context, id string) {
	m.mu.Lock()
	dir, ok := m.paths[id]
	delete(m.paths, id)
	teardown := m.teardown
	m.mu.Unlock()

	if !ok {
		return
	}
	if teardown != nil {
		teardown.Teardown(ctx, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("removing workspace", "id", id, "error", err)
	}
}

// CopyTree copies src (a directory inside fsys) into dst, skipping hidden
// entries and dependency directories. A missing src copies nothing. Files
// stored with a ".txt" suffix to keep toolchains away from them in the
// source tree are written without it.
func CopyTree(fsys fs.FS, src, dst string) error {
	src = path.Clean(src)
	if _, err := fs.Stat(fsys, src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	return fs.WalkDir(fsys, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == src {
			return nil
		}
		if skipEntry(d) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel := p
		if src != "." {
			rel = strings.TrimPrefix(p, src+"/")
		}
		target := filepath.Join(dst, filepath.FromSlash(StripTxtExtension(rel)))

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if info, err := d.Info(); err == nil && info.Mode().Perm()&0o111 != 0 {
			mode = 0o755
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, mode)
	})
}

// StripTxtExtension removes a trailing ".txt" from names that carry another
// extension underneath, such as "main_test.go.txt" or "go.mod.txt".
func StripTxtExtension(name string) string {
	base := strings.TrimSuffix(name, ".txt")
	if base == name || path.Ext(base) == "" {
		return name
	}
	return base
}

func skipEntry(d fs.DirEntry) bool {
	name := d.Name()
	if strings.HasPrefix(name, ".") {
		return true
	}
	return d.IsDir() && skippedDirs[name]
}

// Snapshot lists the files under dir as slash-separated relative paths mapped
// to blake3 digests, skipping hidden entries and dependency directories.
func Snapshot(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if skipEntry(d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		sum := blake3.Sum256(data)
		files[filepath.ToSlash(rel)] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing workspace files: %w", err)
	}
	return files, nil
}

// WriteFile writes content to rel inside dir, creating parent directories.
// Paths that are absolute or climb out of dir are rejected.
func WriteFile(dir, rel string, content []byte) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("refusing to write outside the workspace: %q", rel)
	}
	target := filepath.Join(dir, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", rel, err)
	}
	return filepath.ToSlash(clean), nil
}
