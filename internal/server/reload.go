package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long after the last write the reload fires, so
// a burst of writes from an editor or a slow copy triggers one reload.
const reloadDebounce = 500 * time.Millisecond

// Reloader hot-swaps the registry's layer set when the layer file
// changes. It watches the file's directory rather than the file
// itself: editors and `sed -i` replace the file by rename, which would
// silently kill a direct file watch.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	logger  *slog.Logger
	files   map[string]bool // absolute paths that trigger a reload
}

// NewReloader creates a watcher for the given layer file paths. Empty
// paths are skipped; the daemon then runs on whatever set was loaded
// at startup.
func NewReloader(server *Server, paths []string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{
		watcher: watcher,
		server:  server,
		logger:  logger,
		files:   make(map[string]bool),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("resolve %q: %w", p, err)
		}
		r.files[abs] = true

		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}

	return r, nil
}

// Run blocks until ctx is cancelled, reloading the layer set after
// each change settles. A failed reload leaves the running set intact.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := r.server.ReloadLayers(); err != nil {
					r.logger.Error("hot-reload failed", "error", err)
				}
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("file watcher error", "error", err)
		}
	}
}

// relevant reports whether the event touches a watched layer file in a
// way that can change its content.
func (r *Reloader) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return r.files[abs]
}
