// Package watch re-runs the shrinker when program inputs change on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/shrinker/internal/debug"
)

// DefaultDebounce is used when Options.Debounce is not positive
const DefaultDebounce = 200 * time.Millisecond

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
)

func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "create"
	case EventWrite:
		return "write"
	case EventRemove:
		return "remove"
	case EventRename:
		return "rename"
	}
	return "unknown"
}

// Batch is the set of paths that changed during one debounce window, with
// the latest event seen for each
type Batch map[string]EventType

// Handler is called once per batch. Handlers are never called concurrently.
type Handler func(ctx context.Context, batch Batch) error

// Options configures a Watcher
type Options struct {
	// Debounce is how long the watcher waits for quiet before calling the handler.
	Debounce time.Duration
	// Include lists doublestar patterns, relative to a watched directory, for
	// files that trigger a run. Defaults to class files.
	Include []string
	// Ignore lists directories never watched, typically the output directories.
	Ignore []string
}

// Watcher monitors program inputs and hands debounced batches to a Handler
type Watcher struct {
	fs      *fsnotify.Watcher
	opts    Options
	handler Handler
	log     *slog.Logger

	dirs  []string            // watched input roots
	files map[string]struct{} // watched archives

	events chan fsEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.RWMutex
	stats   Stats
}

type fsEvent struct {
	path string
	typ  EventType
}

// Stats contains statistics about watch operations
type Stats struct {
	Batches         int64
	EventsProcessed int64
	ErrorCount      int64
	LastBatchTime   time.Time
	IsActive        bool
}

// New creates a watcher over the given input paths. Directories are watched
// recursively; files such as jars are watched through their parent directory.
func New(paths []string, opts Options, handler Handler) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("watch: no handler")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if len(opts.Include) == 0 {
		opts.Include = []string{"**/*.class"}
	}
	for _, p := range opts.Include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("watch: invalid include pattern %q", p)
		}
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fs,
		opts:    opts,
		handler: handler,
		log:     debug.Logger(debug.ComponentWatch),
		files:   make(map[string]struct{}),
		events:  make(chan fsEvent, 256),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fs.Close()
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			fs.Close()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
		if info.IsDir() {
			w.dirs = append(w.dirs, abs)
			continue
		}
		w.files[abs] = struct{}{}
	}
	return w, nil
}

// Start adds the watches and begins processing events
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.addWatches(dir); err != nil {
			return fmt.Errorf("failed to add watches starting from %s: %w", dir, err)
		}
	}
	for file := range w.files {
		if err := w.fs.Add(filepath.Dir(file)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", file, err)
		}
	}

	w.setActive(true)
	w.wg.Add(2)
	go w.processEvents()
	go w.debounce()
	w.log.Info("watching inputs", "directories", len(w.dirs), "archives", len(w.files), "debounce", w.opts.Debounce)
	return nil
}

// Stop stops the watcher and waits for a running handler to return.
// Events still waiting for their debounce window are dropped.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.fs.Close()
	w.wg.Wait()
	w.setActive(false)
	w.log.Info("watcher stopped")
	return err
}

// Run starts the watcher and blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	select {
	case <-ctx.Done():
	case <-w.ctx.Done():
	}
	return w.Stop()
}

// addWatches recursively adds watches to all directories under root
func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[resolved] || w.ignored(path) {
			return filepath.SkipDir
		}
		visited[resolved] = true
		if err := w.fs.Add(path); err != nil {
			w.log.Warn("failed to add watch", "dir", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) ignored(dir string) bool {
	for _, ig := range w.opts.Ignore {
		abs, err := filepath.Abs(ig)
		if err != nil {
			continue
		}
		if dir == abs || strings.HasPrefix(dir, abs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// shouldProcess reports whether a file event can change the shrink result
func (w *Watcher) shouldProcess(path string) bool {
	if _, ok := w.files[path]; ok {
		return true
	}
	for _, root := range w.dirs {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		for _, p := range w.opts.Include {
			if ok, _ := doublestar.Match(p, rel); ok {
				return !w.ignored(filepath.Dir(path))
			}
		}
	}
	return false
}

// processEvents processes file system events from fsnotify
func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.incrementStats(0, 0, 1)
			w.log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	debug.Log(debug.ComponentWatch, "received %v for %s", event.Op, path)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.inWatchedDir(path) && !w.ignored(path) {
				if err := w.addWatches(path); err != nil {
					w.log.Warn("failed to watch new directory", "dir", path, "error", err)
				}
			}
			return
		}
	}
	if !w.shouldProcess(path) {
		return
	}

	var typ EventType
	switch {
	case event.Has(fsnotify.Create):
		typ = EventCreate
	case event.Has(fsnotify.Write):
		typ = EventWrite
	case event.Has(fsnotify.Remove):
		typ = EventRemove
	case event.Has(fsnotify.Rename):
		typ = EventRename
	default:
		return
	}
	select {
	case w.events <- fsEvent{path: path, typ: typ}:
	case <-w.ctx.Done():
	}
}

func (w *Watcher) inWatchedDir(path string) bool {
	for _, root := range w.dirs {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// debounce batches events until the inputs stay quiet for the debounce
// window, then calls the handler
func (w *Watcher) debounce() {
	defer w.wg.Done()
	pending := make(Batch)
	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.events:
			pending[ev.path] = ev.typ
			timer.Reset(w.opts.Debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = make(Batch)
			w.flush(batch)
		}
	}
}

func (w *Watcher) flush(batch Batch) {
	w.log.Info("processing debounced file events", "count", len(batch))
	start := time.Now()
	err := w.handler(w.ctx, batch)
	errs := int64(0)
	if err != nil {
		errs = 1
		w.log.Error("run after file change failed", "error", err)
	}
	w.incrementStats(1, int64(len(batch)), errs)
	debug.Log(debug.ComponentWatch, "batch of %d handled in %v", len(batch), time.Since(start))
}

func (w *Watcher) incrementStats(batches, events, errors int64) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.Batches += batches
	w.stats.EventsProcessed += events
	w.stats.ErrorCount += errors
	if batches > 0 {
		w.stats.LastBatchTime = time.Now()
	}
}

func (w *Watcher) setActive(active bool) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.IsActive = active
}

// Stats returns current watch statistics
func (w *Watcher) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}
