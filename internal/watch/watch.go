// Package watch drives a Decsync from filesystem change notifications
// instead of a polling loop: any write anywhere under the watched root
// triggers a debounced rescan.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/decsync-go/decsync"
)

// Scanner is the subset of *decsync.Decsync a Watcher drives.
type Scanner interface {
	ExecuteAllNewEntries(ctx context.Context, extra decsync.Extra, disableMaintenance bool) error
}

// Watcher watches a directory tree with fsnotify and calls
// ExecuteAllNewEntries on its Scanner shortly after activity settles, coalescing bursts of
// individual file events (a sync writes many small files in quick
// succession) into a single rescan.
type Watcher struct {
	fsw     *fsnotify.Watcher
	scanner Scanner
	logger  *slog.Logger
	debounce  time.Duration
	sessionID string

	mu      sync.Mutex
	watched map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher over root (recursively) that calls
// scanner.ExecuteAllNewEntries after debounce of quiet time following the
// last observed change. A nil logger falls back to slog.Default().
func New(root string, scanner Scanner, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsw:       fsw,
		scanner:   scanner,
		logger:    logger,
		debounce:  debounce,
		sessionID: uuid.NewString(),
		watched:   make(map[string]bool),
		done:      make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return walkDirs(root, func(dir string) error {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch: add %s: %w", dir, err)
		}
		w.mu.Lock()
		w.watched[dir] = true
		w.mu.Unlock()
		return nil
	})
}

// Run blocks, dispatching debounced rescans, until ctx is cancelled or
// Stop is called. extra is threaded through to every listener the scan
// fires, exactly as a manual ExecuteAllNewEntries(extra, ...) call would.
func (w *Watcher) Run(ctx context.Context, extra decsync.Extra) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	logger := w.logger.With("session_id", w.sessionID)
	logger.Info("watch: started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch: stopped", "reason", "context done")
			return ctx.Err()
		case <-w.done:
			logger.Info("watch: stopped", "reason", "explicit stop")
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if err := w.maybeWatchNewDir(event.Name); err != nil {
					logger.Warn("watch: failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			logger.Debug("watch: rescanning after debounce")
			if err := w.scanner.ExecuteAllNewEntries(ctx, extra, false); err != nil {
				logger.Warn("watch: scan failed", "error", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) maybeWatchNewDir(path string) error {
	isDir, err := isDirectory(path)
	if err != nil || !isDir {
		return nil
	}
	w.mu.Lock()
	already := w.watched[path]
	w.mu.Unlock()
	if already {
		return nil
	}
	return w.addRecursive(path)
}

// Stop unblocks a running Run call and closes the underlying watcher.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
