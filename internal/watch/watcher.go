// Package watch keeps a content root in sync: file events are staged as they
// happen and the staged queue is committed on a fixed interval.
package watch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"cmslake/internal/lake"
	"cmslake/internal/metrics"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultDebounce = 500 * time.Millisecond
)

// Syncer stages local paths and commits whatever is staged. CommitStaged
// returns a nil result when nothing was queued.
type Syncer interface {
	Stage(ctx context.Context, paths []string) (int, error)
	CommitStaged(ctx context.Context) (*lake.CommitResult, error)
}

// PathFilter maps absolute paths onto content paths and filters ignored ones.
type PathFilter interface {
	Root() string
	Rel(p string) (string, error)
	Ignored(rel string) bool
}

// Options configures a Watcher.
type Options struct {
	Interval time.Duration
	Debounce time.Duration

	// MetricsListen serves Prometheus metrics on this address when set.
	MetricsListen string

	Logger  lake.Logger
	Metrics *metrics.Recorder
}

// Watcher stages file changes under a content root and commits them
// periodically.
type Watcher struct {
	filter PathFilter
	syncer Syncer
	opts   Options
	logger lake.Logger

	watcher   *fsnotify.Watcher
	scheduler gocron.Scheduler

	mu      sync.Mutex
	pending map[string]bool
}

// NewWatcher creates a watcher. Nothing is watched until Run.
func NewWatcher(filter PathFilter, syncer Syncer, opts Options) (*Watcher, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = lake.NewNopLogger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	return &Watcher{
		filter:    filter,
		syncer:    syncer,
		opts:      opts,
		logger:    opts.Logger,
		watcher:   fw,
		scheduler: s,
		pending:   make(map[string]bool),
	}, nil
}

// Run watches until ctx is cancelled. Pending events are staged before it
// returns; the last staged changes are committed by the next run or an
// explicit commit.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.filter.Root()); err != nil {
		return err
	}

	_, err := w.scheduler.NewJob(
		gocron.DurationJob(w.opts.Interval),
		gocron.NewTask(w.commit),
		gocron.WithContext(ctx),
		gocron.WithName("commit-staged"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling commit job: %w", err)
	}
	w.scheduler.Start()
	defer func() {
		if err := w.scheduler.Shutdown(); err != nil {
			w.logger.Error("stopping scheduler", "error", err)
		}
	}()

	if w.opts.MetricsListen != "" {
		srv := w.serveMetrics()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	w.logger.Info("watching content root", "root", w.filter.Root(), "interval", w.opts.Interval)
	w.loop(ctx)
	w.flush(context.WithoutCancel(ctx))
	return nil
}

// loop collects events and stages them once no event arrived for the
// debounce window.
func (w *Watcher) loop(ctx context.Context) {
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				timer.Reset(w.opts.Debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handle records an event and reports whether anything became pending.
func (w *Watcher) handle(event fsnotify.Event) bool {
	rel, err := w.filter.Rel(event.Name)
	if err != nil || rel == "" || w.filter.Ignored(rel) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watching new directory", "path", rel, "error", err)
			}
			// Files created before the directory was added are picked up
			// by marking the whole directory.
			w.mark(event.Name)
			return true
		}
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	w.logger.Debug("content changed", "path", rel, "op", event.Op.String())
	w.mark(event.Name)
	return true
}

func (w *Watcher) mark(p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[p] = true
}

// flush stages every pending path.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	n, err := w.syncer.Stage(ctx, paths)
	if err != nil {
		w.logger.Error("staging changes", "paths", len(paths), "error", err)
		return
	}
	w.logger.Info("staged changes", "changes", n)
}

// commit is the scheduled job body. gocron cancels ctx on shutdown.
func (w *Watcher) commit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := w.syncer.CommitStaged(ctx)
	if err != nil {
		w.logger.Error("scheduled commit failed", "error", err)
		return
	}
	if res == nil {
		w.logger.Debug("nothing staged")
		return
	}
	w.logger.Info("scheduled commit published", "hash", res.Hash, "paths", len(res.Paths))
}

// addTree watches dir and every non-ignored directory below it. fsnotify
// does not watch recursively.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := w.filter.Rel(p); err == nil && rel != "" && w.filter.Ignored(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", w.opts.Metrics.Handler())
	srv := &http.Server{
		Addr:              w.opts.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		w.logger.Info("serving metrics", "addr", w.opts.MetricsListen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}
