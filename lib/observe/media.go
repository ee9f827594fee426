// Package observe keeps the agent's view of the host page current: playback
// listeners on the media element, a location poller for soft navigations,
// and a debounced mutation watcher over the playlist subtree. All periodic
// work runs on the shared scheduler so a session teardown provably cancels
// everything.
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

const rearmInterval = time.Second

// MediaWatcher binds playback listeners to the current media element. Arm
// polls until an element exists; when the host page swaps the element out,
// the next Arm unbinds the stale listeners before binding the new instance.
type MediaWatcher struct {
	logger  *slog.Logger
	doc     page.Document
	timers  *sched.Scheduler
	onEvent func(page.MediaEvent)

	mu           sync.Mutex
	boundID      string
	stopWatch    func()
	drainDone    chan struct{}
	retryPending bool
	closed       bool
}

func NewMediaWatcher(logger *slog.Logger, doc page.Document, timers *sched.Scheduler, onEvent func(page.MediaEvent)) *MediaWatcher {
	return &MediaWatcher{logger: logger, doc: doc, timers: timers, onEvent: onEvent}
}

// Arm binds listeners to the current media element, retrying on a timer
// while none exists. Re-arming against the already-bound element is a no-op.
func (w *MediaWatcher) Arm() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m, err := w.doc.Media(ctx)
	if err != nil {
		if !errors.Is(err, page.ErrTargetGone) {
			w.scheduleRetry()
		}
		return
	}
	if m == nil {
		w.scheduleRetry()
		return
	}

	w.mu.Lock()
	if w.closed || w.boundID == m.ElementID {
		w.mu.Unlock()
		return
	}
	w.unbindLocked()
	w.mu.Unlock()

	ch, stop, err := w.doc.WatchMedia(ctx, m.ElementID)
	if err != nil {
		w.logger.Debug("media bind failed", "err", err)
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
	w.boundID = m.ElementID
	w.stopWatch = stop
	w.drainDone = done
	w.mu.Unlock()

	w.logger.Debug("media listeners bound", "element", m.ElementID)
	go func() {
		for {
			select {
			case ev := <-ch:
				w.onEvent(ev)
			case <-done:
				return
			}
		}
	}()
}

func (w *MediaWatcher) scheduleRetry() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.retryPending {
		return
	}
	w.retryPending = true
	w.timers.After(rearmInterval, func() {
		w.mu.Lock()
		w.retryPending = false
		w.mu.Unlock()
		w.Arm()
	})
}

func (w *MediaWatcher) unbindLocked() {
	if w.stopWatch != nil {
		w.stopWatch()
		w.stopWatch = nil
	}
	if w.drainDone != nil {
		close(w.drainDone)
		w.drainDone = nil
	}
	w.boundID = ""
}

// BoundID returns the identity of the currently bound element, or "".
func (w *MediaWatcher) BoundID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.boundID
}

// Stop unbinds listeners and refuses further arming.
func (w *MediaWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.unbindLocked()
}
