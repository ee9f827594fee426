package scrape

import (
	"context"
	"strings"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/proto"
)

// PlayState reads the current playback state. The media element is
// authoritative; without one the play/pause toggle button's current label is
// consulted (a button offering "Pause" means playback is running).
func PlayState(ctx context.Context, doc page.Document, p Profile) proto.PlayState {
	if m, err := doc.Media(ctx); err == nil && m != nil {
		if m.Paused {
			return proto.PlayStatePaused
		}
		return proto.PlayStatePlaying
	}
	if el, err := doc.Find(ctx, p.PauseButton...); err == nil && el != nil {
		return proto.PlayStatePlaying
	}
	if el, err := doc.Find(ctx, p.PlayButton...); err == nil && el != nil {
		return proto.PlayStatePaused
	}
	return proto.PlayStateUnknown
}

// Title reads the current media title, or "" when no title element matches.
func Title(ctx context.Context, doc page.Document, p Profile) string {
	el, err := doc.Find(ctx, p.Title...)
	if err != nil || el == nil {
		return ""
	}
	return el.Text
}

// Shuffle reads the shuffle toggle state. Absent control reads as off.
func Shuffle(ctx context.Context, doc page.Document, p Profile) bool {
	el, err := doc.Find(ctx, p.ShuffleButton...)
	if err != nil || el == nil {
		return false
	}
	return el.HasClass(p.ShuffleEnabledClass) || el.Attr("aria-pressed") == "true"
}

// Loop decodes the repeat control mode. Human-readable labels win over the
// generic enabled attribute; an enabled control with an unrecognised label
// reads as COLLECTION.
func Loop(ctx context.Context, doc page.Document, p Profile) proto.RepeatMode {
	el, err := doc.Find(ctx, p.LoopButton...)
	if err != nil || el == nil {
		return proto.RepeatOff
	}

	label := strings.ToLower(el.Attr("aria-label") + " " + el.Attr("title"))
	switch {
	case strings.Contains(label, "repeat all"), strings.Contains(label, "repeat playlist"):
		return proto.RepeatCollection
	case strings.Contains(label, "repeat one"), strings.Contains(label, "repeat current"), strings.Contains(label, "repeat this"):
		return proto.RepeatSingle
	}

	if el.HasClass(p.LoopEnabledClass) || el.Attr("aria-pressed") == "true" {
		return proto.RepeatCollection
	}
	return proto.RepeatOff
}

// Snapshot assembles a full player snapshot, enriched with the latched
// navigation identity. A missing media element yields the explicit error
// snapshot instead of stale numbers.
func Snapshot(ctx context.Context, doc page.Document, p Profile, nav proto.NavigationState) (proto.PlayerSnapshot, error) {
	m, err := doc.Media(ctx)
	if err != nil {
		return proto.PlayerSnapshot{}, err
	}
	if m == nil {
		return proto.PlayerSnapshot{Error: "No video player found"}, nil
	}

	state := proto.PlayStatePlaying
	if m.Paused {
		state = proto.PlayStatePaused
	}
	return proto.PlayerSnapshot{
		CurrentTime:  m.CurrentTime,
		Duration:     m.Duration,
		PlayState:    state,
		Title:        Title(ctx, doc, p),
		Volume:       int(m.Volume*100 + 0.5),
		MediaID:      nav.MediaID,
		CollectionID: nav.CollectionID,
		Shuffle:      Shuffle(ctx, doc, p),
		Repeat:       Loop(ctx, doc, p),
	}, nil
}
