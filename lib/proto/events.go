package proto

import "encoding/json"

// EventType identifies an outbound event.
type EventType string

const (
	EventNavigationState  EventType = "NAVIGATION_STATE"
	EventPlayerSnapshot   EventType = "PLAYER_SNAPSHOT"
	EventAudioFrame       EventType = "AUDIO_FRAME"
	EventPlaylistSnapshot EventType = "PLAYLIST_SNAPSHOT"
	EventPlayItemAck      EventType = "PLAY_ITEM_ACK"
)

// Event is an outbound agent event. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type       EventType         `json:"type"`
	Navigation *NavigationState  `json:"navigation,omitempty"`
	Snapshot   *PlayerSnapshot   `json:"snapshot,omitempty"`
	Frame      *AudioFrame       `json:"frame,omitempty"`
	Playlist   *PlaylistSnapshot `json:"playlist,omitempty"`
	Ack        *PlayItemAck      `json:"ack,omitempty"`
}

// PlayState mirrors the host media element: 1 playing, 2 paused.
type PlayState int

const (
	PlayStateUnknown PlayState = 0
	PlayStatePlaying PlayState = 1
	PlayStatePaused  PlayState = 2
)

// RepeatMode is the host loop control mode. The host control advances one
// step per click, in the order OFF -> COLLECTION -> SINGLE -> OFF.
type RepeatMode int

const (
	RepeatOff        RepeatMode = 0
	RepeatCollection RepeatMode = 1
	RepeatSingle     RepeatMode = 2
)

// NavigationState is the latched navigation identity of the host page.
type NavigationState struct {
	MediaID      string `json:"activeMediaId"`
	CollectionID string `json:"activeCollectionId"`
	URL          string `json:"currentUrl"`
	HasPlayer    bool   `json:"hasPlayer"`
}

// PlayerSnapshot is the full point-in-time player state. When no media
// element is present the snapshot carries only Error and marshals as
// {"error": "..."} so stale numeric fields can never leak to the panel.
type PlayerSnapshot struct {
	Error        string     `json:"error,omitempty"`
	CurrentTime  float64    `json:"currentTime"`
	Duration     float64    `json:"duration"`
	PlayState    PlayState  `json:"playState"`
	Title        string     `json:"title"`
	Volume       int        `json:"volume"`
	MediaID      string     `json:"mediaId"`
	CollectionID string     `json:"collectionId"`
	Shuffle      bool       `json:"shuffle"`
	Repeat       RepeatMode `json:"repeat"`
}

func (s PlayerSnapshot) MarshalJSON() ([]byte, error) {
	if s.Error != "" {
		return json.Marshal(map[string]string{"error": s.Error})
	}
	type plain PlayerSnapshot
	return json.Marshal(plain(s))
}

// PlaylistEntry is one scraped playlist row. Position is 1-based and stable
// within a single scrape pass.
type PlaylistEntry struct {
	Position  int    `json:"position"`
	Title     string `json:"title"`
	MediaID   string `json:"mediaId"`
	IsCurrent bool   `json:"isCurrent"`
}

// PlaylistSnapshot is the full ordered playlist listing.
type PlaylistSnapshot struct {
	Items []PlaylistEntry `json:"items"`
}

// AudioFrame is one fixed-length spectrum sample; each bar is in [0,255].
type AudioFrame struct {
	Bars []int `json:"bars"`
}

// PlayItemAck reports whether a PLAY_ITEM command managed to jump or
// navigate to the requested item.
type PlayItemAck struct {
	OK      bool   `json:"ok"`
	MediaID string `json:"mediaId"`
}

func NewNavigationEvent(nav NavigationState) Event {
	return Event{Type: EventNavigationState, Navigation: &nav}
}

func NewSnapshotEvent(snap PlayerSnapshot) Event {
	return Event{Type: EventPlayerSnapshot, Snapshot: &snap}
}

func NewErrorSnapshotEvent(msg string) Event {
	return Event{Type: EventPlayerSnapshot, Snapshot: &PlayerSnapshot{Error: msg}}
}

func NewAudioFrameEvent(bars []int) Event {
	return Event{Type: EventAudioFrame, Frame: &AudioFrame{Bars: bars}}
}

func NewPlaylistEvent(items []PlaylistEntry) Event {
	return Event{Type: EventPlaylistSnapshot, Playlist: &PlaylistSnapshot{Items: items}}
}

func NewPlayItemAckEvent(ok bool, mediaID string) Event {
	return Event{Type: EventPlayItemAck, Ack: &PlayItemAck{OK: ok, MediaID: mediaID}}
}
