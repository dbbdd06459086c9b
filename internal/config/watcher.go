package config

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollInterval = 60 * time.Second

// StartWatcher reloads the store when the config file changes. fsnotify
// is the fast path; a slow polling loop runs regardless as a safety net
// for editors that replace the file instead of writing it.
func (s *Store) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[WARN] Config watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(s.path); err != nil {
		log.Printf("[WARN] Config watcher: cannot watch %s (%v), falling back to polling", s.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Let the writer finish before re-parsing.
						time.Sleep(100 * time.Millisecond)
						s.reloadLogged()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[WARN] Config watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		lastMod := s.modTime()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if mod := s.modTime(); !mod.IsZero() && mod.After(lastMod) {
					lastMod = mod
					s.reloadLogged()
				}
			}
		}
	}()
}

func (s *Store) modTime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (s *Store) reloadLogged() {
	if err := s.Reload(); err != nil {
		log.Printf("[ERROR] Config reload failed: %v", err)
		return
	}
	log.Printf("[INFO] Config reloaded from %s", s.path)
}
