// Package control actuates playback commands against the host page. Direct
// media-element property writes are preferred; UI controls located through
// the profile's fallback selectors are the second resort. Host-page state
// updates are asynchronous, so every actuation schedules a snapshot push
// after a settle delay instead of reading back immediately.
package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/proto"
	"github.com/ampdeck/agent/lib/sched"
	"github.com/ampdeck/agent/lib/scrape"
)

const (
	// settleShort follows toggle-style actuations (play, pause, shuffle).
	settleShort = 300 * time.Millisecond
	// settleTrack follows track changes, which re-render more of the page.
	settleTrack = 500 * time.Millisecond
	// loopClickStagger spaces repeat-control clicks so the host page
	// registers each advance separately.
	loopClickStagger = 200 * time.Millisecond
)

// JumpResult reports how a jump-to-item request was satisfied.
type JumpResult int

const (
	// JumpNone means the item was not found and no navigation happened.
	JumpNone JumpResult = iota
	// JumpRow means a visible playlist row was clicked in place.
	JumpRow
	// JumpNavigated means a full page navigation to the item was started.
	JumpNavigated
)

// Actuator executes playback commands. Push is invoked (via the scheduler)
// once an actuation has had time to settle; the session wires it to a
// snapshot push.
type Actuator struct {
	logger  *slog.Logger
	doc     page.Document
	profile func() scrape.Profile
	timers  *sched.Scheduler
	push    func()
}

func NewActuator(logger *slog.Logger, doc page.Document, profile func() scrape.Profile, timers *sched.Scheduler, push func()) *Actuator {
	return &Actuator{logger: logger, doc: doc, profile: profile, timers: timers, push: push}
}

func (a *Actuator) settle(d time.Duration) {
	a.timers.After(d, a.push)
}

// Play resumes playback through the media element, falling back to the
// labelled play button. The same physical button toggles its label between
// play and pause, hence the state-qualified selectors.
func (a *Actuator) Play(ctx context.Context) error {
	p := a.profile()
	m, err := a.doc.Media(ctx)
	if err != nil {
		return err
	}
	if m != nil && m.Paused {
		if err := a.doc.PlayMedia(ctx); err != nil {
			return err
		}
	} else if m == nil {
		if _, err := a.doc.Click(ctx, p.PlayButton...); err != nil {
			return err
		}
	}
	a.settle(settleShort)
	return nil
}

func (a *Actuator) Pause(ctx context.Context) error {
	p := a.profile()
	m, err := a.doc.Media(ctx)
	if err != nil {
		return err
	}
	if m != nil && !m.Paused {
		if err := a.doc.PauseMedia(ctx); err != nil {
			return err
		}
	} else if m == nil {
		if _, err := a.doc.Click(ctx, p.PauseButton...); err != nil {
			return err
		}
	}
	a.settle(settleShort)
	return nil
}

// Stop pauses and rewinds to zero. The host page has no dedicated stop
// control, so this is a pure media-element operation.
func (a *Actuator) Stop(ctx context.Context) error {
	m, err := a.doc.Media(ctx)
	if err != nil {
		return err
	}
	if m != nil {
		if err := a.doc.PauseMedia(ctx); err != nil {
			return err
		}
		if err := a.doc.SetMediaTime(ctx, 0); err != nil {
			return err
		}
	}
	a.settle(settleShort)
	return nil
}

func (a *Actuator) Next(ctx context.Context) error {
	p := a.profile()
	if _, err := a.doc.Click(ctx, p.NextButton...); err != nil {
		return err
	}
	a.settle(settleTrack)
	return nil
}

// Prev clicks the previous button, falling back to a synthesized left-arrow
// key when the control is absent.
func (a *Actuator) Prev(ctx context.Context) error {
	p := a.profile()
	clicked, err := a.doc.Click(ctx, p.PrevButton...)
	if err != nil {
		return err
	}
	if !clicked && p.PrevFallbackKey != "" {
		if err := a.doc.PressKey(ctx, p.PrevFallbackKey); err != nil {
			return err
		}
	}
	a.settle(settleTrack)
	return nil
}

func (a *Actuator) Seek(ctx context.Context, seconds float64) error {
	if err := a.doc.SetMediaTime(ctx, seconds); err != nil {
		return err
	}
	a.settle(settleShort)
	return nil
}

// SetVolume normalizes the panel's 0-100 scale to the element's 0.0-1.0.
func (a *Actuator) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if err := a.doc.SetMediaVolume(ctx, float64(percent)/100); err != nil {
		return err
	}
	a.settle(settleShort)
	return nil
}

// SetShuffle toggles only when the detected state differs from the request,
// so repeated identical commands stay idempotent.
func (a *Actuator) SetShuffle(ctx context.Context, enabled bool) error {
	p := a.profile()
	current := scrape.Shuffle(ctx, a.doc, p)
	if current == enabled {
		return nil
	}
	if _, err := a.doc.Click(ctx, p.ShuffleButton...); err != nil {
		return err
	}
	a.settle(settleShort)
	return nil
}

// LoopClicks computes the minimal forward clicks to move the repeat control
// from one mode to another. The control only advances one step per click, in
// the order OFF -> COLLECTION -> SINGLE -> OFF.
func LoopClicks(from, to proto.RepeatMode) int {
	return ((int(to)-int(from))%3 + 3) % 3
}

// SetLoop advances the repeat control to the target mode. A nil target means
// advance exactly one step. Clicks are staggered so each advance registers;
// the settle push lands after the last click.
func (a *Actuator) SetLoop(ctx context.Context, target *proto.RepeatMode) error {
	p := a.profile()
	current := scrape.Loop(ctx, a.doc, p)

	clicks := 1
	if target != nil {
		clicks = LoopClicks(current, *target)
	}
	if clicks == 0 {
		return nil
	}

	for i := 0; i < clicks; i++ {
		if i == 0 {
			if _, err := a.doc.Click(ctx, p.LoopButton...); err != nil {
				return err
			}
			continue
		}
		a.timers.After(time.Duration(i)*loopClickStagger, func() {
			clickCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := a.doc.Click(clickCtx, p.LoopButton...); err != nil {
				a.logger.Debug("staggered repeat click failed", "err", err)
			}
		})
	}
	a.settle(time.Duration(clicks-1)*loopClickStagger + settleShort)
	return nil
}

// PlayItem jumps to the playlist entry with the given media id. The inline
// panel layout is searched first, then the full playlist page layout; when
// neither shows the item, a full navigation preserving the active collection
// id is started. The caller needs to know which happened: a row click keeps
// the page alive, a navigation reloads it.
func (a *Actuator) PlayItem(ctx context.Context, mediaID, collectionID string) (JumpResult, error) {
	if mediaID == "" {
		return JumpNone, nil
	}
	p := a.profile()

	for _, q := range []page.RowQuery{p.PanelQuery(), p.PageQuery()} {
		idx, err := scrape.FindRow(ctx, a.doc, q, p.MediaParam, mediaID)
		if err != nil {
			return JumpNone, err
		}
		if idx < 0 {
			continue
		}
		clicked, err := a.doc.ClickRow(ctx, q, idx)
		if err != nil {
			return JumpNone, err
		}
		if clicked {
			return JumpRow, nil
		}
	}

	if err := a.doc.Navigate(ctx, scrape.WatchURLFor(p, mediaID, collectionID)); err != nil {
		return JumpNone, err
	}
	return JumpNavigated, nil
}
