// Package panel implements the panel-side mirror of the agent's telemetry.
// The mirror holds latest-value state only: every inbound event replaces the
// fields it carries wholesale, so rendering never waits on a missing field.
package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/coder/websocket"

	"github.com/ampdeck/agent/lib/proto"
)

const (
	pollInterval      = time.Second
	reconnectAttempts = 3
	reconnectDelay    = 2 * time.Second
)

// DragControl identifies a control the user can hold mid-interaction.
type DragControl string

const (
	DragSeek   DragControl = "seek"
	DragVolume DragControl = "volume"
)

// State is the rendered mirror. StatusText carries the user-visible failure
// line; empty means healthy.
type State struct {
	Connected  bool
	StatusText string
	Navigation proto.NavigationState
	Snapshot   proto.PlayerSnapshot
	Playlist   []proto.PlaylistEntry
	Bars       []int
}

// Mirror maintains the panel's connection to an agent and its latest-value
// state. Run drives the connect/reconnect loop; Send issues commands.
type Mirror struct {
	logger   *slog.Logger
	url      string
	onUpdate func(State)

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	dragging map[DragControl]bool
}

func NewMirror(logger *slog.Logger, url string, onUpdate func(State)) *Mirror {
	return &Mirror{
		logger:   logger,
		url:      url,
		onUpdate: onUpdate,
		dragging: make(map[DragControl]bool),
	}
}

// Run connects and serves until the context ends or the capped reconnect is
// exhausted. Each connection loss restarts the capped retry.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		conn, err := m.dial(ctx)
		if err != nil {
			m.update(func(st *State) {
				st.Connected = false
				if st.StatusText == "" {
					st.StatusText = "Disconnected"
				}
			})
			return err
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.update(func(st *State) {
			st.Connected = true
			st.StatusText = ""
		})

		err = m.serve(ctx, conn)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "mirror closing")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Info("agent connection lost, reconnecting", "err", err)
	}
}

// dial connects with a capped fixed-backoff retry. A refusal that can't heal
// (no eligible page behind the agent) surfaces as the no-target status line.
func (m *Mirror) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.New(
		retry.Attempts(reconnectAttempts),
		retry.Delay(reconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			m.update(func(st *State) {
				st.Connected = false
				st.StatusText = fmt.Sprintf("Disconnected, retrying (%d/%d)", n+1, reconnectAttempts)
			})
		}),
	).Do(func() error {
		c, resp, err := websocket.Dial(ctx, m.url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusGone {
				m.update(func(st *State) { st.StatusText = "No target found" })
			}
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

// serve pumps events and polls for a fresh snapshot at a steady cadence
// until the connection dies.
func (m *Mirror) serve(ctx context.Context, conn *websocket.Conn) error {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.pollLoop(pollCtx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev proto.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			m.logger.Warn("bad event from agent", "err", err)
			continue
		}
		m.apply(ev)
	}
}

func (m *Mirror) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Send(ctx, proto.NewCommand(proto.CmdGetState)); err != nil {
				return
			}
		}
	}
}

// apply folds one event into the mirror.
func (m *Mirror) apply(ev proto.Event) {
	m.update(func(st *State) {
		switch ev.Type {
		case proto.EventNavigationState:
			if ev.Navigation != nil {
				st.Navigation = *ev.Navigation
			}

		case proto.EventPlayerSnapshot:
			if ev.Snapshot == nil {
				return
			}
			if ev.Snapshot.Error != "" {
				// No media element: stop any indication of playing and
				// surface the message.
				st.Snapshot = proto.PlayerSnapshot{Error: ev.Snapshot.Error}
				st.Bars = nil
				st.StatusText = ev.Snapshot.Error
				return
			}
			snap := *ev.Snapshot
			// While the user holds a slider, the echoed value must not
			// yank it out of their hand.
			if m.dragging[DragSeek] {
				snap.CurrentTime = st.Snapshot.CurrentTime
			}
			if m.dragging[DragVolume] {
				snap.Volume = st.Snapshot.Volume
			}
			st.Snapshot = snap
			st.StatusText = ""

		case proto.EventPlaylistSnapshot:
			if ev.Playlist != nil {
				st.Playlist = ev.Playlist.Items
			}

		case proto.EventAudioFrame:
			if ev.Frame != nil {
				st.Bars = ev.Frame.Bars
			}

		case proto.EventPlayItemAck:
			if ev.Ack != nil && !ev.Ack.OK {
				st.StatusText = "Could not jump to item"
			}
		}
	})
}

func (m *Mirror) update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	st := m.snapshotLocked()
	m.mu.Unlock()
	if m.onUpdate != nil {
		m.onUpdate(st)
	}
}

func (m *Mirror) snapshotLocked() State {
	st := m.state
	st.Playlist = append([]proto.PlaylistEntry(nil), m.state.Playlist...)
	st.Bars = append([]int(nil), m.state.Bars...)
	return st
}

// State returns a copy of the current mirror state.
func (m *Mirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// SetDragging marks a control as held by the user. While held, echoed
// snapshot values for that control are ignored.
func (m *Mirror) SetDragging(ctrl DragControl, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dragging[ctrl] = active
}

// Send issues one command to the agent.
func (m *Mirror) Send(ctx context.Context, cmd proto.Command) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
