package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pairWindow bounds how long a rename's old-path event waits for the create
// of its new path. The kernel emits the pair back to back; a marker that
// outlives the window was a move out of the watched tree.
const pairWindow = 500 * time.Millisecond

// Config selects which directory trees to watch.
type Config struct {
	// Paths are the roots to watch recursively. Roots that do not exist at
	// startup are skipped with a warning.
	Paths []string `mapstructure:"paths"`
	// Exclude lists path prefixes whose events are ignored.
	Exclude []string `mapstructure:"exclude"`
}

// Watcher tails filesystem events under the configured roots and feeds them
// into an Accumulator. Watches are recursive: the tree is walked once at
// startup and directories created later are added as their create events
// arrive.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	acc     *Accumulator
	logger  zerolog.Logger
	started bool
	done    chan struct{}

	pmu     sync.Mutex
	pending []pendingRename
}

// pendingRename is the old-path half of a move, waiting for the create that
// names its destination.
type pendingRename struct {
	path string
	at   time.Time
}

// New creates a watcher for the given roots. Call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		acc:    NewAccumulator(),
		logger: log.With().Str("component", "watcher").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Start registers the configured roots and launches the event loop. The loop
// runs until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	var watched int
	for _, root := range w.cfg.Paths {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			w.logger.Warn().Str("path", root).Msg("Watch root missing or not a directory, skipping")
			continue
		}
		n, err := w.addTree(root)
		if err != nil {
			w.logger.Error().Err(err).Str("path", root).Msg("Failed to register watch root")
			continue
		}
		watched += n
		w.logger.Info().Str("path", root).Int("directories", n).Msg("Watching path recursively")
	}

	if watched == 0 && len(w.cfg.Paths) > 0 {
		return fmt.Errorf("none of the %d configured watch roots could be registered", len(w.cfg.Paths))
	}

	w.started = true
	go w.loop(ctx)
	return nil
}

// addTree registers root and every subdirectory, honoring excludes. It
// returns the number of directories added.
func (w *Watcher) addTree(root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug().Err(err).Str("path", path).Msg("Skipping unreadable entry")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug().Err(err).Str("path", path).Msg("Could not watch directory")
			return nil
		}
		count++
		return nil
	})
	return count, err
}

func (w *Watcher) excluded(path string) bool {
	for _, prefix := range w.cfg.Exclude {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Filesystem watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.excluded(event.Name) {
		return
	}

	// A rename surfaces as Rename for the old path plus Create for the new
	// one; the pair folds into a single renamed count at the new path. Chmod
	// is ignored since permission churn says nothing about encryption
	// activity. Directory creations extend the watch but only file events
	// count.
	switch {
	case event.Op&fsnotify.Create != 0:
		moved := w.claimRename()
		if w.maybeWatchNewDir(event.Name) {
			return
		}
		if moved {
			w.acc.RecordRenamed(event.Name)
		} else {
			w.acc.RecordModified(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		w.acc.RecordModified(event.Name)
	case event.Op&fsnotify.Rename != 0:
		w.noteRename(event.Name)
	case event.Op&fsnotify.Remove != 0:
		w.acc.RecordDeleted(event.Name)
	default:
		return
	}

	w.logger.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("Filesystem event recorded")
}

// maybeWatchNewDir extends the recursive watch when a directory appears
// inside a watched tree. It reports whether path is a directory.
func (w *Watcher) maybeWatchNewDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	if _, err := w.addTree(path); err != nil {
		w.logger.Debug().Err(err).Str("path", path).Msg("Could not extend watch to new directory")
	}
	return true
}

// noteRename remembers the old path of a move until the create naming its
// destination arrives.
func (w *Watcher) noteRename(path string) {
	now := time.Now()
	w.pmu.Lock()
	defer w.pmu.Unlock()
	w.flushExpiredLocked(now)
	w.pending = append(w.pending, pendingRename{path: path, at: now})
}

// claimRename consumes the oldest pending marker, reporting whether the
// create being handled is the destination half of a move.
func (w *Watcher) claimRename() bool {
	w.pmu.Lock()
	defer w.pmu.Unlock()
	w.flushExpiredLocked(time.Now())
	if len(w.pending) == 0 {
		return false
	}
	w.pending = w.pending[1:]
	return true
}

// flushExpiredLocked turns markers older than the pair window into deletions:
// a rename whose create never arrived moved the file out of the watched tree.
func (w *Watcher) flushExpiredLocked(now time.Time) {
	for len(w.pending) > 0 && now.Sub(w.pending[0].at) > pairWindow {
		w.acc.RecordDeleted(w.pending[0].path)
		w.pending = w.pending[1:]
	}
}

// Drain returns and resets the activity counts gathered since the last call.
func (w *Watcher) Drain() Counts {
	w.pmu.Lock()
	w.flushExpiredLocked(time.Now())
	w.pmu.Unlock()
	return w.acc.Drain()
}

// Close stops the event loop and releases the underlying watch descriptors.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	if w.started {
		<-w.done
	}
	return err
}
