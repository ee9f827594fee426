package observe

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/page/pagetest"
	"github.com/ampdeck/agent/lib/proto"
	"github.com/ampdeck/agent/lib/sched"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTimers(t *testing.T) *sched.Scheduler {
	t.Helper()
	timers := sched.New()
	t.Cleanup(timers.StopAll)
	return timers
}

func TestMediaWatcherBindsWhenElementAppears(t *testing.T) {
	doc := pagetest.NewDocument()
	var events atomic.Int64
	w := NewMediaWatcher(testLogger(), doc, newTimers(t), func(page.MediaEvent) {
		events.Add(1)
	})
	defer w.Stop()

	// No element yet: arming schedules a retry instead of binding.
	w.Arm()
	assert.Equal(t, "", w.BoundID())

	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	require.Eventually(t, func() bool { return w.BoundID() == "m1" }, 3*time.Second, 20*time.Millisecond)

	doc.EmitMedia("m1", page.MediaPlay)
	require.Eventually(t, func() bool { return events.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestMediaWatcherRebindsOnIdentityChange(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	var events atomic.Int64
	w := NewMediaWatcher(testLogger(), doc, newTimers(t), func(page.MediaEvent) {
		events.Add(1)
	})
	defer w.Stop()

	w.Arm()
	require.Equal(t, "m1", w.BoundID())

	doc.SetMedia(&page.MediaState{ElementID: "m2"})
	w.Arm()
	require.Equal(t, "m2", w.BoundID())

	// Events from the stale element no longer land anywhere.
	doc.EmitMedia("m1", page.MediaPlay)
	doc.EmitMedia("m2", page.MediaPause)
	require.Eventually(t, func() bool { return events.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), events.Load())
}

func TestMediaWatcherArmIdempotent(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	w := NewMediaWatcher(testLogger(), doc, newTimers(t), func(page.MediaEvent) {})
	defer w.Stop()

	w.Arm()
	w.Arm()
	assert.Equal(t, "m1", w.BoundID())
}

func TestMediaWatcherStopRefusesRearm(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	w := NewMediaWatcher(testLogger(), doc, newTimers(t), func(page.MediaEvent) {})

	w.Arm()
	w.Stop()
	assert.Equal(t, "", w.BoundID())

	w.Arm()
	assert.Equal(t, "", w.BoundID())
}

func TestURLWatcherFiresOnChangeOnly(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetURL("https://music.example.com/watch?v=a")
	var mu sync.Mutex
	var seen []string
	w := NewURLWatcher(testLogger(), doc, newTimers(t), func(u string) {
		mu.Lock()
		seen = append(seen, u)
		mu.Unlock()
	})

	w.Start(context.Background())
	defer w.Stop()

	// Unchanged location: no callback.
	time.Sleep(1200 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, seen)
	mu.Unlock()

	doc.SetURL("https://music.example.com/watch?v=b")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "https://music.example.com/watch?v=b"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPlaylistWatcherDebouncesBursts(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetRootID("playlist-root", "r1")

	var forced, unforced atomic.Int64
	w := NewPlaylistWatcher(testLogger(), doc, newTimers(t), func() string { return "playlist-root" }, func(force bool) {
		if force {
			forced.Add(1)
		} else {
			unforced.Add(1)
		}
	})
	defer w.Stop()

	w.Ensure(false)
	require.True(t, w.Attached())
	assert.Equal(t, int64(1), forced.Load())

	// A rapid burst collapses into one debounced notify.
	for i := 0; i < 5; i++ {
		doc.EmitMutation("r1")
	}
	require.Eventually(t, func() bool { return unforced.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int64(1), unforced.Load())
}

func TestPlaylistWatcherRetriesWhileRootAbsent(t *testing.T) {
	doc := pagetest.NewDocument()
	var notifies atomic.Int64
	w := NewPlaylistWatcher(testLogger(), doc, newTimers(t), func() string { return "playlist-root" }, func(force bool) {
		notifies.Add(1)
	})
	defer w.Stop()

	w.Ensure(false)
	assert.False(t, w.Attached())

	doc.SetRootID("playlist-root", "r1")
	require.Eventually(t, func() bool { return w.Attached() }, 3*time.Second, 20*time.Millisecond)
}

func TestPlaylistWatcherReattachesToReplacedRoot(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetRootID("playlist-root", "r1")
	w := NewPlaylistWatcher(testLogger(), doc, newTimers(t), func() string { return "playlist-root" }, func(bool) {})
	defer w.Stop()

	w.Ensure(false)
	require.True(t, w.Attached())

	// Same instance: no rebuild without force.
	w.Ensure(false)
	assert.Equal(t, []string{"r1"}, doc.WatchedRoots())

	// A different container instance replaces the root.
	doc.SetRootID("playlist-root", "r2")
	w.Ensure(false)
	assert.Equal(t, []string{"r1", "r2"}, doc.WatchedRoots())
	assert.Equal(t, []string{"r1"}, doc.UnwatchedRoots())
}

func TestPlaylistNotifierDedupsBySignature(t *testing.T) {
	items := []proto.PlaylistEntry{{Position: 1, Title: "One", MediaID: "a"}}
	var sends atomic.Int64
	n := NewPlaylistNotifier(
		func() ([]proto.PlaylistEntry, bool) { return items, true },
		func([]proto.PlaylistEntry) { sends.Add(1) },
	)

	n.Notify(false)
	n.Notify(false)
	assert.Equal(t, int64(1), sends.Load())

	n.Notify(true)
	assert.Equal(t, int64(2), sends.Load())

	items = []proto.PlaylistEntry{{Position: 1, Title: "One", MediaID: "a", IsCurrent: true}}
	n.Notify(false)
	assert.Equal(t, int64(3), sends.Load())
}

func TestPlaylistNotifierEmptyOncePerAbsentPeriod(t *testing.T) {
	present := false
	var mu sync.Mutex
	var sent [][]proto.PlaylistEntry
	n := NewPlaylistNotifier(
		func() ([]proto.PlaylistEntry, bool) {
			if !present {
				return nil, false
			}
			return []proto.PlaylistEntry{{Position: 1, MediaID: "a"}}, true
		},
		func(items []proto.PlaylistEntry) {
			mu.Lock()
			sent = append(sent, items)
			mu.Unlock()
		},
	)

	// Absent period: exactly one empty send no matter how often notified.
	n.Notify(false)
	n.Notify(false)
	n.Notify(true)
	mu.Lock()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0])
	mu.Unlock()

	// Container appears: listing goes out.
	present = true
	n.Notify(false)
	mu.Lock()
	require.Len(t, sent, 2)
	mu.Unlock()

	// Absent again: a fresh empty send is allowed once.
	present = false
	n.Notify(false)
	n.Notify(false)
	mu.Lock()
	assert.Len(t, sent, 3)
	mu.Unlock()
}
