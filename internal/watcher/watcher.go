// Package watcher watches the corpus directories for new batches and feeds
// complete NPY/CSV pairs to an ingest callback.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// defaultDebounce coalesces the write bursts a batch copy produces into one
// ingest per base name.
const defaultDebounce = 2 * time.Second

// Watcher watches the embeddings and chunks directories. A batch is reported
// only once both halves of the pair exist, so partially copied corpora never
// reach the builder.
type Watcher struct {
	embDir   string
	chunkDir string
	onBatch  func(base string)
	debounce time.Duration

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for event diagnostics.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the event settle window. Tests use a short one.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over the corpus directories. onBatch is
// called with the base name of each newly complete batch pair.
func NewWatcher(embDir, chunkDir string, onBatch func(base string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		embDir:      embDir,
		chunkDir:    chunkDir,
		onBatch:     onBatch,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	for _, dir := range []string{w.embDir, w.chunkDir} {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			w.mu.Unlock()
			return err
		}
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Info("watching for new batches",
			zap.String("embeddings_dir", w.embDir),
			zap.String("chunks_dir", w.chunkDir))
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	base, ok := batchBase(ev.Name)
	if !ok {
		return
	}
	if w.logger != nil {
		w.logger.Debug("batch event", zap.String("op", ev.Op.String()), zap.String("base", base))
	}
	w.debounceBatch(base)
}

// batchBase extracts the batch base name from an NPY or CSV path.
func batchBase(path string) (string, bool) {
	name := filepath.Base(path)
	switch {
	case strings.HasSuffix(name, ".npy"):
		return strings.TrimSuffix(name, ".npy"), true
	case strings.HasSuffix(name, ".csv"):
		return strings.TrimSuffix(name, ".csv"), true
	default:
		return "", false
	}
}

// pairComplete reports whether both halves of the batch exist.
func (w *Watcher) pairComplete(base string) bool {
	if _, err := os.Stat(filepath.Join(w.embDir, base+".npy")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(w.chunkDir, base+".csv")); err != nil {
		return false
	}
	return true
}

func (w *Watcher) debounceBatch(base string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[base]; ok {
		t.Stop()
	}
	t := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, base)
		logger := w.logger
		w.mu.Unlock()
		if !w.pairComplete(base) {
			if logger != nil {
				logger.Debug("batch pair incomplete, waiting for partner", zap.String("base", base))
			}
			return
		}
		if w.onBatch != nil {
			w.onBatch(base)
		}
	})
	w.debounceMap[base] = t
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for base, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, base)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
