package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file when something edits it from outside the
// process and calls onChange with the fresh snapshot. The watch is on the
// parent directory so rename-style writers (including our own save) are seen
// as Create events on the file path.
func (m *Manager) Watch(ctx context.Context, onChange func(File)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[Config] fsnotify unavailable: %v, external edits ignored", err)
		return
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		log.Printf("[Config] cannot watch %s: %v, external edits ignored", dir, err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Writers rename into place; give the file a moment to settle.
				time.Sleep(100 * time.Millisecond)
				if err := m.Reload(); err != nil {
					log.Printf("[Config] reload after external edit failed: %v", err)
					continue
				}
				log.Printf("[Config] reloaded %s", m.path)
				if onChange != nil {
					onChange(m.Snapshot())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Config] watcher error: %v", err)
			}
		}
	}()
}
