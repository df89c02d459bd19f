// Package watcher implements the event-driven backup trigger (A2): a
// recursive fsnotify watch per source directory that debounces bursts of
// filesystem activity into a single trigger signal.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.nodeforge.dev/vault/snapguard/internal/logfields"
)

// triggerCapacity bounds the per-source trigger channel; a slow consumer
// coalesces excess events rather than blocking the watch goroutine.
const triggerCapacity = 100

// debounceWindow is how long the watcher waits after the last observed
// event before emitting a trigger signal.
const debounceWindow = 2 * time.Second

// SourceWatcher watches one source directory tree and emits a unit signal
// on Triggers whenever its content changes, debounced.
type SourceWatcher struct {
	source   string
	watcher  *fsnotify.Watcher
	Triggers chan struct{}

	mu        sync.Mutex
	stopCh    chan struct{}
	pendingCh chan struct{}
}

// New creates a watcher for source, recursively adding every directory
// under it (fsnotify does not watch subtrees automatically).
func New(source string) (*SourceWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absSource, err := filepath.Abs(source)
	if err != nil {
		fw.Close()
		return nil, err
	}

	walkErr := filepath.WalkDir(absSource, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if walkErr != nil {
		fw.Close()
		return nil, walkErr
	}

	return &SourceWatcher{
		source:    absSource,
		watcher:   fw,
		Triggers:  make(chan struct{}, triggerCapacity),
		stopCh:    make(chan struct{}),
		pendingCh: make(chan struct{}, 1),
	}, nil
}

// Start begins the watch and debounce goroutines. Stop to release
// resources.
func (w *SourceWatcher) Start(ctx context.Context) {
	go w.watchLoop(ctx)
	go w.debounceLoop(ctx)
}

// Stop terminates both goroutines and closes the underlying fsnotify
// watcher.
func (w *SourceWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopCh:
		return
	default:
		close(w.stopCh)
	}
	if err := w.watcher.Close(); err != nil {
		slog.Error("error closing source watcher", logfields.Source(w.source), logfields.Error(err))
	}
}

func (w *SourceWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						slog.Warn("failed to watch new subdirectory", logfields.Path(event.Name), logfields.Error(err))
					}
				}
			}
			w.triggerDebounce()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("source watcher error", logfields.Source(w.source), logfields.Error(err))
		}
	}
}

func (w *SourceWatcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-w.stopCh:
			stopTimer(timer)
			return
		case <-w.pendingCh:
			stopTimer(timer)
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case w.Triggers <- struct{}{}:
				default:
					slog.Warn("trigger channel full, coalescing signal", logfields.Source(w.source))
				}
			})
		}
	}
}

func (w *SourceWatcher) triggerDebounce() {
	select {
	case w.pendingCh <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
