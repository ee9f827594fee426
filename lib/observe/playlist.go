package observe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/sched"
)

const (
	playlistRetryInterval = time.Second
	playlistDebounce      = 250 * time.Millisecond
)

// playlistAttrFilter is the attribute allow-list for playlist mutation
// observation. Anything the row interpretation reads can mark a row current
// or retitle it; everything else is render noise.
var playlistAttrFilter = []string{"selected", "aria-current", "href", "title", "class"}

// PlaylistWatcher observes the playlist container subtree and fires a
// debounced notify per mutation burst. The container may legitimately not
// exist (non-playlist playback); the watcher retries on a timer until one
// appears, and reattaches when a different container instance replaces it.
type PlaylistWatcher struct {
	logger       *slog.Logger
	doc          page.Document
	timers       *sched.Scheduler
	rootSelector func() string
	notify       func(force bool)

	mu              sync.Mutex
	rootID          string
	stopWatch       func()
	drainDone       chan struct{}
	retryPending    bool
	debouncePending bool
	closed          bool
}

func NewPlaylistWatcher(logger *slog.Logger, doc page.Document, timers *sched.Scheduler, rootSelector func() string, notify func(force bool)) *PlaylistWatcher {
	return &PlaylistWatcher{logger: logger, doc: doc, timers: timers, rootSelector: rootSelector, notify: notify}
}

// Ensure attaches the mutation observer to the current container instance.
// With forceRestart the observer is rebuilt even when the instance is
// unchanged. Attaching (or re-attaching) always fires one forced notify so
// the panel never misses the listing that was already on screen.
func (w *PlaylistWatcher) Ensure(forceRestart bool) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	root, err := w.doc.RootID(ctx, w.rootSelector())
	if err != nil {
		if !errors.Is(err, page.ErrTargetGone) {
			w.scheduleRetry()
		}
		return
	}
	if root == "" {
		w.notify(false)
		w.scheduleRetry()
		return
	}

	w.mu.Lock()
	if !forceRestart && w.stopWatch != nil && w.rootID == root {
		w.mu.Unlock()
		return
	}
	w.detachLocked()
	w.mu.Unlock()

	ch, stop, err := w.doc.WatchMutations(ctx, root, playlistAttrFilter)
	if err != nil {
		w.logger.Debug("playlist observer attach failed", "err", err)
		w.scheduleRetry()
		return
	}

	done := make(chan struct{})
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		stop()
		close(done)
		return
	}
	w.rootID = root
	w.stopWatch = stop
	w.drainDone = done
	w.mu.Unlock()

	w.logger.Debug("playlist observer attached", "root", root)
	go func() {
		for {
			select {
			case <-ch:
				w.onMutation()
			case <-done:
				return
			}
		}
	}()

	w.notify(true)
}

// onMutation coalesces a mutation burst into a single notify. The host page
// re-renders rows rapidly during scrolls and track changes; one debounced
// scrape covers the whole burst.
func (w *PlaylistWatcher) onMutation() {
	w.mu.Lock()
	if w.closed || w.debouncePending {
		w.mu.Unlock()
		return
	}
	w.debouncePending = true
	w.mu.Unlock()

	w.timers.After(playlistDebounce, func() {
		w.mu.Lock()
		w.debouncePending = false
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.notify(false)
		}
	})
}

func (w *PlaylistWatcher) scheduleRetry() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.retryPending {
		return
	}
	w.retryPending = true
	w.timers.After(playlistRetryInterval, func() {
		w.mu.Lock()
		w.retryPending = false
		w.mu.Unlock()
		w.Ensure(false)
	})
}

func (w *PlaylistWatcher) detachLocked() {
	if w.stopWatch != nil {
		w.stopWatch()
		w.stopWatch = nil
	}
	if w.drainDone != nil {
		close(w.drainDone)
		w.drainDone = nil
	}
	w.rootID = ""
}

// Attached reports whether a mutation observer is currently live.
func (w *PlaylistWatcher) Attached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopWatch != nil
}

// Detach drops the current observer but leaves the watcher usable; the next
// Ensure re-attaches. Used when the panel disconnects.
func (w *PlaylistWatcher) Detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.detachLocked()
}

// Stop detaches the observer and refuses further attaching.
func (w *PlaylistWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.detachLocked()
}
