package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/sched"
)

const urlPollInterval = time.Second

// URLWatcher polls the page location and fires onChange on every soft
// navigation. The host is a single-page app: most track changes never load a
// new document, so location polling is the only reliable navigation signal.
type URLWatcher struct {
	logger   *slog.Logger
	doc      page.Document
	timers   *sched.Scheduler
	onChange func(url string)

	mu      sync.Mutex
	lastURL string
	cancel  func()
}

func NewURLWatcher(logger *slog.Logger, doc page.Document, timers *sched.Scheduler, onChange func(url string)) *URLWatcher {
	return &URLWatcher{logger: logger, doc: doc, timers: timers, onChange: onChange}
}

// Start begins polling. The current location seeds the comparison so
// starting never fires a spurious change.
func (w *URLWatcher) Start(ctx context.Context) {
	if u, err := w.doc.URL(ctx); err == nil {
		w.mu.Lock()
		w.lastURL = u
		w.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	w.cancel = w.timers.Every(urlPollInterval, w.check)
}

func (w *URLWatcher) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	u, err := w.doc.URL(ctx)
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := u != w.lastURL
	if changed {
		w.lastURL = u
	}
	w.mu.Unlock()

	if changed {
		w.logger.Debug("location changed", "url", u)
		w.onChange(u)
	}
}

// Stop halts polling.
func (w *URLWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}
