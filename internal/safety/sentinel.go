package safety

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// SentinelSwitch is a Controller backed by the presence of a sentinel file,
// so operators can engage the kill switch with `touch` even when the daemon's
// API is unreachable. File events are picked up via fsnotify; the cached
// state means the dispatch hot path never stats the filesystem.
type SentinelSwitch struct {
	path    string
	engaged atomic.Bool
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSentinelSwitch creates a SentinelSwitch for the given sentinel path and
// starts watching its directory. Initial state comes from the file's
// presence.
func NewSentinelSwitch(path string) (*SentinelSwitch, error) {
	if path == "" {
		return nil, fmt.Errorf("safety: sentinel path is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("safety: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("safety: watch %s: %w", filepath.Dir(path), err)
	}

	s := &SentinelSwitch{
		path:    path,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	s.engaged.Store(s.sentinelExists())

	go s.watch()
	return s, nil
}

// Engaged reports whether the kill switch is set.
func (s *SentinelSwitch) Engaged() bool {
	return s.engaged.Load()
}

// Engage creates the sentinel file. Idempotent.
func (s *SentinelSwitch) Engage() error {
	if err := os.WriteFile(s.path, []byte("dispatch halted\n"), 0644); err != nil {
		return fmt.Errorf("safety: engage: %w", err)
	}
	s.engaged.Store(true)
	return nil
}

// Disengage removes the sentinel file. Idempotent.
func (s *SentinelSwitch) Disengage() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("safety: disengage: %w", err)
	}
	s.engaged.Store(false)
	return nil
}

// Close stops watching the sentinel.
func (s *SentinelSwitch) Close() error {
	close(s.done)
	return s.watcher.Close()
}

func (s *SentinelSwitch) sentinelExists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// watch keeps the cached state in sync with filesystem events on the
// sentinel path.
func (s *SentinelSwitch) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
				s.engaged.Store(true)
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				s.engaged.Store(false)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("safety: sentinel watch error: %v", err)
			// Fall back to a direct check so a watch hiccup cannot wedge
			// the switch in either state.
			s.engaged.Store(s.sentinelExists())
		}
	}
}
