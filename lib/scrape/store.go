package scrape

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store holds the active selector profile. Without an override path it
// serves the embedded default. With one, the file replaces the default
// wholesale and is hot-reloaded on change; a broken edit keeps the last
// good profile.
type Store struct {
	logger *slog.Logger

	mu      sync.RWMutex
	profile Profile

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewStore(logger *slog.Logger, overridePath string) (*Store, error) {
	p, err := DefaultProfile()
	if err != nil {
		return nil, err
	}
	s := &Store{logger: logger, profile: p}

	if overridePath == "" {
		return s, nil
	}

	if raw, err := os.ReadFile(overridePath); err == nil {
		override, perr := parseProfile(raw)
		if perr != nil {
			return nil, perr
		}
		s.profile = override
		logger.Info("loaded selector profile override", "path", overridePath, "profile", override.Name)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files rather than writing in place.
	if err := watcher.Add(filepath.Dir(overridePath)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop(overridePath)
	return s, nil
}

func (s *Store) watchLoop(path string) {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			s.reload(path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("profile watcher error", "err", err)
		}
	}
}

func (s *Store) reload(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("profile override unreadable, keeping current", "path", path, "err", err)
		return
	}
	p, err := parseProfile(raw)
	if err != nil {
		s.logger.Warn("profile override invalid, keeping current", "path", path, "err", err)
		return
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	s.logger.Info("selector profile reloaded", "path", path, "profile", p.Name)
}

// Profile returns the active selector profile.
func (s *Store) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *Store) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
		<-s.done
	}
}
