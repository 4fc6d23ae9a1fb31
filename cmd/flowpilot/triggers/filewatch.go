package triggers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
)

// fileWatch is one workflow's file-watch registration.
type fileWatch struct {
	workflowName string
	root         string
	events       map[string]bool
	pattern      string
}

// FileWatcher maps filesystem events to workflow launches. Bursts of events
// for the same file collapse into one launch per debounce window.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	launcher Launcher
	debounce time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	watches  map[string][]*fileWatch // root path -> registrations
	byName   map[string][]string     // workflow -> root paths
	pending  map[string]*time.Timer  // workflow+path -> debounce timer
	shutdown chan struct{}
	once     sync.Once
}

// NewFileWatcher creates a file watcher
func NewFileWatcher(launcher Launcher, debounce time.Duration, log *logger.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw := &FileWatcher{
		watcher:  watcher,
		launcher: launcher,
		debounce: debounce,
		log:      log,
		watches:  make(map[string][]*fileWatch),
		byName:   make(map[string][]string),
		pending:  make(map[string]*time.Timer),
		shutdown: make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

// Add registers every file-watch trigger of a workflow, replacing previous
// registrations. Returns the number of watches added.
func (w *FileWatcher) Add(wf *models.Workflow) (int, error) {
	w.Remove(wf.Name)

	added := 0
	for _, trigger := range wf.Triggers {
		if trigger.Type != models.TriggerFileWatch {
			continue
		}
		root, err := expandWatchPath(trigger.Path)
		if err != nil {
			return added, fmt.Errorf("workflow %q: %w", wf.Name, err)
		}
		if _, err := os.Stat(root); err != nil {
			return added, fmt.Errorf("workflow %q: watch path %q: %w", wf.Name, trigger.Path, err)
		}

		events := make(map[string]bool, len(trigger.Events))
		for _, ev := range trigger.Events {
			events[ev] = true
		}

		w.mu.Lock()
		needsWatch := len(w.watches[root]) == 0
		w.watches[root] = append(w.watches[root], &fileWatch{
			workflowName: wf.Name,
			root:         root,
			events:       events,
			pattern:      trigger.Pattern,
		})
		w.byName[wf.Name] = append(w.byName[wf.Name], root)
		w.mu.Unlock()

		if needsWatch {
			if err := w.watcher.Add(root); err != nil {
				w.Remove(wf.Name)
				return added, fmt.Errorf("workflow %q: cannot watch %q: %w", wf.Name, root, err)
			}
		}
		added++
	}
	return added, nil
}

// Remove drops all watches of a workflow.
func (w *FileWatcher) Remove(workflowName string) {
	w.mu.Lock()
	roots := w.byName[workflowName]
	delete(w.byName, workflowName)
	var released []string
	for _, root := range roots {
		kept := w.watches[root][:0]
		for _, watch := range w.watches[root] {
			if watch.workflowName != workflowName {
				kept = append(kept, watch)
			}
		}
		if len(kept) == 0 {
			delete(w.watches, root)
			released = append(released, root)
		} else {
			w.watches[root] = kept
		}
	}
	w.mu.Unlock()

	for _, root := range released {
		w.watcher.Remove(root)
	}
}

// Watching reports whether a workflow has active watches.
func (w *FileWatcher) Watching(workflowName string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byName[workflowName]) > 0
}

// Close stops the event loop and releases the watcher.
func (w *FileWatcher) Close() error {
	w.once.Do(func() { close(w.shutdown) })
	return w.watcher.Close()
}

func (w *FileWatcher) loop() {
	for {
		select {
		case <-w.shutdown:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("file watcher error", "error", err)
		}
	}
}

func (w *FileWatcher) handle(event fsnotify.Event) {
	kind := eventKind(event.Op)
	if kind == "" {
		return
	}

	w.mu.Lock()
	var matched []*fileWatch
	for root, watches := range w.watches {
		if !pathWithin(root, event.Name) {
			continue
		}
		for _, watch := range watches {
			if !watch.events[kind] {
				continue
			}
			if watch.pattern != "" {
				ok, err := filepath.Match(watch.pattern, filepath.Base(event.Name))
				if err != nil || !ok {
					continue
				}
			}
			matched = append(matched, watch)
		}
	}
	w.mu.Unlock()

	for _, watch := range matched {
		w.debounceFire(watch, event.Name, kind)
	}
}

// debounceFire schedules a launch after the debounce window, resetting the
// timer on every further event for the same workflow and file.
func (w *FileWatcher) debounceFire(watch *fileWatch, path, kind string) {
	key := watch.workflowName + "\x00" + path

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[key]; exists {
		timer.Stop()
	}
	name := watch.workflowName
	w.pending[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()

		isDir := false
		if info, err := os.Stat(path); err == nil {
			isDir = info.IsDir()
		}
		inputs := map[string]any{
			"_file_event": map[string]any{
				"type":         kind,
				"path":         path,
				"is_directory": isDir,
				"timestamp":    time.Now().UTC().Format(time.RFC3339),
			},
		}
		execution, err := w.launcher.Start(context.Background(), name, models.TriggerTagFileWatch, inputs)
		if err != nil {
			w.log.Error("file-watch firing failed", "workflow", name, "path", path, "error", err)
			return
		}
		w.log.Info("file-watch firing",
			"workflow", name, "path", path, "event", kind, "execution_id", execution.ID)
	})
}

func eventKind(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Write):
		return "modified"
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return "deleted"
	default:
		return ""
	}
}

func pathWithin(root, path string) bool {
	if root == path {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == filepath.Base(path)
}

func expandWatchPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("watch path is required")
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(os.ExpandEnv(path))
}
