package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is how long Watch waits after the last change to a file
// before converting it again.
const WatchDebounce = 100 * time.Millisecond

// WatchFunc receives every conversion Watch performs.
type WatchFunc func(path string, c *Conversion, err error)

// Watch converts paths once and then again each time one of them is written,
// until ctx is done. Directories are watched rather than files so editors
// that replace a file on save are still noticed.
func (s *Service) Watch(ctx context.Context, paths []string, fn WatchFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	files := make(map[string]string, len(paths)) // absolute -> as given
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		files[abs] = p
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			dirs[dir] = true
		}
	}

	for _, p := range paths {
		c, err := s.Convert(ctx, p)
		fn(p, c, err)
	}
	s.logger.Info("watching workflows", "files", len(paths), "dirs", len(dirs))

	pending := make(map[string]bool)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p, ok := files[filepath.Clean(event.Name)]
			if !ok {
				continue
			}
			s.logger.Debug("change detected", "path", p, "op", event.Op.String())
			pending[p] = true
			debounce = time.After(WatchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", "error", err)
		case <-debounce:
			debounce = nil
			for _, p := range paths {
				if !pending[p] {
					continue
				}
				delete(pending, p)
				c, err := s.Convert(ctx, p)
				fn(p, c, err)
			}
		}
	}
}
