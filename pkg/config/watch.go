package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when NewWatcher gets a
// non-positive debounce.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports changes to a single configuration file.
//
// The parent directory is watched rather than the file itself: editors
// and config-map mounts replace files by rename, which drops a watch held
// on the old inode.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher starts watching filename. Events are collected from the
// moment it returns; call Run to receive them.
func NewWatcher(filename string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("config watch: resolve %s: %w", filename, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watch: add %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{fs: fsw, path: abs, debounce: debounce, logger: logger}, nil
}

// Run calls onChange once per burst of writes, creates or renames of the
// file, after the burst has been quiet for the debounce period. It blocks
// until ctx is cancelled and releases the watcher on return.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	defer w.fs.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-fire:
			w.logger.Info("config: file changed", slog.String("path", w.path))
			onChange()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config: watch error", slog.String("error", err.Error()))
		}
	}
}
