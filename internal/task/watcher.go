package task

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"
)

// ChangeKind describes how a task changed between two loads.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Changed ChangeKind = "changed"
	Removed ChangeKind = "removed"
)

// Change is emitted by the Watcher for every task whose descriptor moved.
type Change struct {
	Kind ChangeKind
	ID   string
	Task *Task // nil for Removed
}

// Watcher reloads an on-disk task tree when files change.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func([]Change)
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string][32]byte
}

// NewWatcher creates a task watcher for dir.
func NewWatcher(dir string, debounce time.Duration, onChange func([]Change), logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		known:    make(map[string][32]byte),
	}
}

// Watch records the current task set and blocks until ctx is cancelled,
// reporting changes after each debounced burst of file events.
func (w *Watcher) Watch(ctx context.Context) error {
	if _, err := w.Reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := w.addDirs(watcher, w.dir); err != nil {
		return err
	}

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRelevantEvent(event) {
				continue
			}

			w.logger.Debug("task file change detected", "file", event.Name, "op", event.Op.String())

			// New task directories need their own watch.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addDirs(watcher, event.Name)
				}
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				changes, err := w.Reload()
				if err != nil {
					w.logger.Warn("reloading tasks", "error", err)
					return
				}
				if len(changes) > 0 {
					w.onChange(changes)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// Reload loads the tree and diffs it against the previous load.
func (w *Watcher) Reload() ([]Change, error) {
	tasks, err := NewLoader(os.DirFS(w.dir), ".").LoadAll()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	next := make(map[string][32]byte, len(tasks))
	var changes []Change
	for _, t := range tasks {
		data, err := t.ReadFile(DescriptorFile)
		if err != nil {
			continue
		}
		sum := blake3.Sum256(data)
		next[t.ID] = sum

		prev, ok := w.known[t.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Added, ID: t.ID, Task: t})
		case prev != sum:
			changes = append(changes, Change{Kind: Changed, ID: t.ID, Task: t})
		}
	}
	for id := range w.known {
		if _, ok := next[id]; !ok {
			changes = append(changes, Change{Kind: Removed, ID: id})
		}
	}
	w.known = next

	return changes, nil
}

func isRelevantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}

	switch filepath.Ext(name) {
	case ".swp", ".swo", ".swn", ".tmp", ".bak", ".log":
		return false
	}
	return true
}

func (w *Watcher) addDirs(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != dir {
			return filepath.SkipDir
		}
		if d.Name() == "node_modules" {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			w.logger.Debug("failed to watch directory", "path", p, "error", err)
		}
		return nil
	})
}
