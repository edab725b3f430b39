package watch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jakubmeysner/kobweb/internal/logging"
	"github.com/jakubmeysner/kobweb/internal/status"
)

// Watcher observes the dev build outputs and bumps the globals version
// when content actually changes, which the status feed turns into a live
// reload. Events are debounced so one export producing many writes counts
// once, and each settled file is fingerprinted so rewrites with identical
// bytes bump nothing.
type Watcher struct {
	watcher  *fsnotify.Watcher
	globals  *status.Globals
	debounce time.Duration

	// hashes and the run loop below are confined to one goroutine.
	hashes map[string]uint64
	errLog rate.Sometimes
}

// New watches the given paths. A path naming a file watches its directory
// and fingerprints the file up front; a directory is watched as is. Paths
// that cannot be watched are skipped with a warning, but at least one must
// stick.
func New(globals *status.Globals, paths ...string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		globals:  globals,
		debounce: 500 * time.Millisecond,
		hashes:   make(map[string]uint64),
		errLog:   rate.Sometimes{First: 3, Interval: time.Minute},
	}

	added := 0
	seen := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := p
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			dir = filepath.Dir(p)
			w.prime(p)
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := fsWatcher.Add(dir); err != nil {
			logging.Warn("cannot watch path", zap.String("path", dir), zap.Error(err))
			continue
		}
		added++
	}
	if added == 0 {
		fsWatcher.Close()
		return nil, fmt.Errorf("no watchable paths among %v", paths)
	}
	return w, nil
}

// SetDebounce adjusts how long events must settle before they count.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	go w.run()
}

// Stop ends watching. The run loop exits when the event channel closes.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := make(map[string]struct{})

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
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
			w.settle(pending)
			pending = make(map[string]struct{})
			timerC = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.errLog.Do(func() {
				logging.Error("build watcher error", zap.Error(err))
			})
			w.globals.SetStatus("Build watcher error: "+err.Error(), true)
		}
	}
}

// settle fingerprints every path in the batch and bumps the version when
// anything really changed.
func (w *Watcher) settle(pending map[string]struct{}) {
	changed := false
	for path := range pending {
		if w.rehash(path) {
			changed = true
		}
	}
	if !changed {
		return
	}
	version := w.globals.IncrementVersion()
	w.globals.ClearStatus()
	logging.Info("site content changed", zap.Int("version", version))
}

// rehash updates the fingerprint for path, reporting whether it moved.
// A vanished file counts as changed when it was known before.
func (w *Watcher) rehash(path string) bool {
	sum, ok := hashFile(path)
	prev, existed := w.hashes[path]
	if !ok {
		delete(w.hashes, path)
		return existed
	}
	w.hashes[path] = sum
	return !existed || prev != sum
}

// prime records a baseline fingerprint so the first event on a known file
// only counts if its content moved.
func (w *Watcher) prime(path string) {
	if sum, ok := hashFile(path); ok {
		w.hashes[path] = sum
	}
}

func hashFile(path string) (uint64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, false
	}
	return h.Sum64(), true
}
