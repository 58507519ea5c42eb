// Package watch keeps a file system model in step with the disk and reports
// what changed as deltas.
package watch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"arbor/internal/delta"
	"arbor/internal/diff"
	"arbor/internal/element"
	"arbor/internal/fsmodel"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 200 * time.Millisecond

type Watcher struct {
	model    *fsmodel.Model
	dir      string
	notifier element.Notifier
	debounce time.Duration
	ignore   []string
	maxDepth int
	logger   *zap.Logger
	recorder *diff.Recorder
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithIgnore(patterns []string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, patterns...)
	}
}

// WithMaxDepth limits how deep changes are compared; see diff.WithMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(w *Watcher) {
		w.maxDepth = depth
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New watches dir, the directory md models. Deltas go to notifier.
func New(md *fsmodel.Model, dir string, notifier element.Notifier, opts ...Option) *Watcher {
	w := &Watcher{
		model:    md,
		dir:      dir,
		notifier: notifier,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.recorder = diff.NewRecorder(diff.WithMaxDepth(w.maxDepth), diff.WithLogger(w.logger))
	return w
}

// Start records the current state of the model. Run calls it; it is
// exported for callers that drive Flush themselves.
func (w *Watcher) Start(ctx context.Context) error {
	return w.recorder.BeginRecording(ctx, w.model, w.model.Root())
}

// Run watches until ctx is done. Bursts of events are coalesced over the
// debounce interval and reported as one delta.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.dir); err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	w.logger.Info("watching", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := make(map[string]fsnotify.Op)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(w.dir, ev.Name)
			if err != nil || w.ignored(rel) {
				continue
			}
			rel = filepath.ToSlash(rel)
			pending[rel] |= ev.Op
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("watching new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			changes := pending
			pending = make(map[string]fsnotify.Op)
			if _, err := w.Flush(ctx, changes); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("computing changes", zap.Error(err))
				if err := w.Start(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// Flush invalidates the changed paths, fires the resulting delta and starts
// recording again from the new state.
func (w *Watcher) Flush(ctx context.Context, changes map[string]fsnotify.Op) (*delta.Delta, error) {
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		op := changes[p]
		if op.Has(fsnotify.Create) || op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			w.model.InvalidateListing(p)
		} else {
			w.model.Invalidate(p)
		}
	}

	d, err := w.recorder.EndRecording(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	w.logger.Debug("changes flushed", zap.Int("paths", len(paths)), zap.Bool("empty", d.IsEmpty()))
	if !d.IsEmpty() && w.notifier != nil {
		w.notifier.Fire(delta.NewEvent(delta.PostChange, d))
	}
	return d, nil
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.dir && w.ignoredName(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

// ignored reports whether any component of the relative path rel is
// ignored.
func (w *Watcher) ignored(rel string) bool {
	for p := filepath.ToSlash(rel); p != "." && p != "" && p != "/"; p = path.Dir(p) {
		if w.ignoredName(path.Base(p)) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignoredName(name string) bool {
	for _, pattern := range w.ignore {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
