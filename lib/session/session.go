// Package session owns one agent instance: the watchers, the actuator, the
// audio streamer and the single panel channel over which everything flows.
// A session lives until its page target disappears or a newer instance
// supersedes it; both are terminal, a destroyed session never comes back.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ampdeck/agent/lib/control"
	"github.com/ampdeck/agent/lib/observe"
	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/proto"
	"github.com/ampdeck/agent/lib/sched"
	"github.com/ampdeck/agent/lib/scrape"
	"github.com/ampdeck/agent/lib/spectrum"
)

var (
	// ErrBusy means a panel channel is already attached.
	ErrBusy = errors.New("session: panel already connected")
	// ErrDisabled means the session has been destroyed.
	ErrDisabled = errors.New("session: disabled")
)

const pageOpTimeout = 2 * time.Second

// Session binds a page document to at most one panel channel.
type Session struct {
	logger  *slog.Logger
	id      string
	doc     page.Document
	profile func() scrape.Profile
	timings Timings
	timers  *sched.Scheduler

	detector  *scrape.Detector
	actuator  *control.Actuator
	streamer  *spectrum.Streamer
	mediaW    *observe.MediaWatcher
	urlW      *observe.URLWatcher
	playlistW *observe.PlaylistWatcher
	notifier  *observe.PlaylistNotifier
	handle    *instanceHandle

	mu       sync.Mutex
	channel  Channel
	disabled bool
}

// New builds a session. Any prior session holding the registry namespace is
// destroyed first: two instances observing the same page would double every
// push and fight over the audio graph.
func New(logger *slog.Logger, doc page.Document, profile func() scrape.Profile, bars int, timings Timings) *Session {
	s := &Session{
		logger:  logger,
		id:      uuid.NewString(),
		doc:     doc,
		profile: profile,
		timings: timings,
		timers:  sched.New(),
	}
	s.detector = scrape.NewDetector(profile)
	s.actuator = control.NewActuator(logger, doc, profile, s.timers, s.pushSnapshot)
	s.streamer = spectrum.NewStreamer(logger, doc, s.timers, bars, s.emitFrame)
	s.mediaW = observe.NewMediaWatcher(logger, doc, s.timers, s.onMediaEvent)
	s.urlW = observe.NewURLWatcher(logger, doc, s.timers, s.onURLChange)
	s.playlistW = observe.NewPlaylistWatcher(logger, doc, s.timers, func() string {
		return profile().PlaylistRoot
	}, s.notifyPlaylist)
	s.notifier = observe.NewPlaylistNotifier(s.scrapePlaylist, s.sendPlaylist)
	s.handle = instances.install(Namespace, s.Destroy)
	return s
}

// Start arms the page-scoped watchers. These run with or without a panel;
// only the channel-scoped work (viz, playlist observer) waits for Attach.
func (s *Session) Start(ctx context.Context) {
	if _, err := s.detector.Detect(ctx, s.doc); err != nil {
		s.pageErr(err)
	}
	s.urlW.Start(ctx)
	s.mediaW.Arm()
}

func (s *Session) ID() string { return s.id }

func (s *Session) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel != nil
}

// Status describes the session for the status endpoint.
type Status struct {
	ID             string                `json:"id"`
	Disabled       bool                  `json:"disabled"`
	PanelConnected bool                  `json:"panelConnected"`
	Streaming      bool                  `json:"streaming"`
	Navigation     proto.NavigationState `json:"navigation"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	connected := s.channel != nil
	disabled := s.disabled
	s.mu.Unlock()
	return Status{
		ID:             s.id,
		Disabled:       disabled,
		PanelConnected: connected,
		Streaming:      s.streamer.Running(),
		Navigation:     s.detector.Current(),
	}
}

// Attach hands the panel channel to the session and runs the connect
// sequence: navigation push, settle-delayed snapshot push, playlist observer
// init plus a forced listing push.
func (s *Session) Attach(ch Channel) error {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if s.channel != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	s.channel = ch
	s.mu.Unlock()

	s.logger.Info("panel attached", "session", s.id)
	s.pushNavigation()
	s.timers.After(s.timings.AttachSnapshot, s.pushSnapshot)
	s.playlistW.Ensure(false)
	s.notifyPlaylist(true)
	return nil
}

// Detach clears the panel channel and stops the channel-scoped work. The
// page-scoped watchers keep running so a reconnecting panel gets fresh state
// immediately.
func (s *Session) Detach(reason string) {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()
	if ch == nil {
		return
	}

	s.logger.Info("panel detached", "session", s.id, "reason", reason)
	ch.Close(reason)
	s.streamer.Stop()
	s.playlistW.Detach()
}

// HandleCommand dispatches one panel command. Decode failures are returned
// to the transport; page failures route through the terminal-error check.
func (s *Session) HandleCommand(ctx context.Context, cmd proto.Command) error {
	if s.Disabled() {
		return ErrDisabled
	}

	switch cmd.Kind {
	case proto.CmdPlay:
		return s.actErr(s.actuator.Play(ctx))
	case proto.CmdPause:
		return s.actErr(s.actuator.Pause(ctx))
	case proto.CmdStop:
		return s.actErr(s.actuator.Stop(ctx))
	case proto.CmdNext:
		return s.actErr(s.actuator.Next(ctx))
	case proto.CmdPrev:
		return s.actErr(s.actuator.Prev(ctx))

	case proto.CmdSeek:
		seconds, err := cmd.Seconds()
		if err != nil {
			return err
		}
		return s.actErr(s.actuator.Seek(ctx, seconds))

	case proto.CmdVolume:
		percent, err := cmd.Percent()
		if err != nil {
			return err
		}
		return s.actErr(s.actuator.SetVolume(ctx, percent))

	case proto.CmdShuffle:
		enabled, err := cmd.Enabled()
		if err != nil {
			return err
		}
		return s.actErr(s.actuator.SetShuffle(ctx, enabled))

	case proto.CmdLoop:
		target, err := cmd.RepeatTarget()
		if err != nil {
			return err
		}
		return s.actErr(s.actuator.SetLoop(ctx, target))

	case proto.CmdGetState:
		s.pushNavigation()
		s.pushSnapshot()
		return nil

	case proto.CmdStartViz:
		if err := s.streamer.Start(ctx); err != nil {
			if errors.Is(err, page.ErrNoAudio) {
				s.logger.Warn("audio tap unavailable", "err", err)
				return nil
			}
			return s.actErr(err)
		}
		return nil

	case proto.CmdStopViz:
		s.streamer.Stop()
		return nil

	case proto.CmdGetPlaylist:
		s.playlistW.Ensure(true)
		s.notifyPlaylist(true)
		return nil

	case proto.CmdPlayItem:
		return s.handlePlayItem(ctx, cmd)
	}
	return fmt.Errorf("unknown command: %s", cmd.Kind)
}

func (s *Session) handlePlayItem(ctx context.Context, cmd proto.Command) error {
	mediaID, err := cmd.MediaID()
	if err != nil {
		return err
	}

	res, err := s.actuator.PlayItem(ctx, mediaID, s.detector.Current().CollectionID)
	if err != nil {
		s.pageErr(err)
	}
	s.send(proto.NewPlayItemAckEvent(err == nil && res != control.JumpNone, mediaID))

	// The jump re-renders the whole playback surface; refresh everything
	// after it settles.
	s.timers.After(s.timings.JumpRefresh, func() {
		s.pushNavigation()
		s.pushSnapshot()
		s.playlistW.Ensure(false)
		s.notifyPlaylist(true)
	})
	return nil
}

// Destroy tears the session down completely: every timer, watcher, the
// audio graph and the panel channel. Idempotent, and terminal.
func (s *Session) Destroy(reason string) {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return
	}
	s.disabled = true
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	s.timers.StopAll()
	s.mediaW.Stop()
	s.urlW.Stop()
	s.playlistW.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), pageOpTimeout)
	defer cancel()
	s.streamer.Close(ctx)

	if ch != nil {
		ch.Close(reason)
	}
	instances.release(Namespace, s.handle)
	s.logger.Info("session destroyed", "session", s.id, "reason", reason)
}

// --- pushes ---

// send delivers one event over the panel channel. A write failure means the
// channel is gone, not the page: clear it and stop the channel-scoped work,
// the panel will reconnect.
func (s *Session) send(ev proto.Event) {
	s.mu.Lock()
	ch := s.channel
	disabled := s.disabled
	s.mu.Unlock()
	if disabled || ch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Send(ctx, ev); err != nil {
		s.logger.Info("panel channel lost", "session", s.id, "err", err)
		s.mu.Lock()
		if s.channel == ch {
			s.channel = nil
		}
		s.mu.Unlock()
		s.streamer.Stop()
		s.playlistW.Detach()
	}
}

func (s *Session) pushNavigation() {
	ctx, cancel := context.WithTimeout(context.Background(), pageOpTimeout)
	defer cancel()
	nav, err := s.detector.Detect(ctx, s.doc)
	if err != nil {
		s.pageErr(err)
		return
	}
	s.send(proto.NewNavigationEvent(nav))
}

func (s *Session) pushSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), pageOpTimeout)
	defer cancel()
	snap, err := scrape.Snapshot(ctx, s.doc, s.profile(), s.detector.Current())
	if err != nil {
		s.pageErr(err)
		return
	}
	s.send(proto.NewSnapshotEvent(snap))
}

func (s *Session) emitFrame(bars []int) {
	s.send(proto.NewAudioFrameEvent(bars))
}

func (s *Session) notifyPlaylist(force bool) {
	s.mu.Lock()
	connected := s.channel != nil
	s.mu.Unlock()
	if !connected {
		return
	}
	s.notifier.Notify(force)
}

func (s *Session) scrapePlaylist() ([]proto.PlaylistEntry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), pageOpTimeout)
	defer cancel()

	root, err := s.doc.RootID(ctx, s.profile().PlaylistRoot)
	if err != nil {
		s.pageErr(err)
		return nil, false
	}
	if root == "" {
		return nil, false
	}
	items, err := scrape.Playlist(ctx, s.doc, s.profile())
	if err != nil {
		s.pageErr(err)
		return nil, false
	}
	return items, true
}

func (s *Session) sendPlaylist(items []proto.PlaylistEntry) {
	s.send(proto.NewPlaylistEvent(items))
}

// --- watcher callbacks ---

func (s *Session) onMediaEvent(page.MediaEvent) {
	s.pushSnapshot()
}

// onURLChange runs the soft-navigation sequence: identity push now, then
// staggered snapshot, media rebind and playlist rebuild as the page settles.
func (s *Session) onURLChange(string) {
	s.pushNavigation()
	s.timers.After(s.timings.NavSnapshot, s.pushSnapshot)
	s.timers.After(s.timings.NavRearm, s.mediaW.Arm)
	s.timers.After(s.timings.NavPlaylist, func() {
		s.playlistW.Ensure(true)
		s.notifyPlaylist(true)
	})
}

// --- error routing ---

// pageErr checks a page operation failure for the terminal condition. Target
// gone destroys the session; anything else is transient and swallowed, the
// next watcher pass retries.
func (s *Session) pageErr(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, page.ErrTargetGone) {
		s.Destroy("page target gone")
		return
	}
	s.logger.Debug("page operation failed", "session", s.id, "err", err)
}

func (s *Session) actErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, page.ErrTargetGone) {
		s.Destroy("page target gone")
		return err
	}
	return err
}
