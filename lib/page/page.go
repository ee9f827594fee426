// Package page abstracts the live third-party document the agent observes
// and commands. The production implementation speaks the Chrome DevTools
// Protocol to the host page; tests use the fake in pagetest. Everything the
// rest of the agent knows about the host page goes through Document, so the
// scraping, actuation and observer logic stays independent of the transport.
package page

import "context"

// Element is a snapshot of the first element matched by a selector list.
type Element struct {
	Text    string            `json:"text"`
	Attrs   map[string]string `json:"attrs"`
	Classes []string          `json:"classes"`
}

// Attr returns the named attribute or "" when absent.
func (e *Element) Attr(name string) string {
	if e == nil {
		return ""
	}
	return e.Attrs[name]
}

// HasClass reports whether the element carries the given class.
func (e *Element) HasClass(name string) bool {
	if e == nil {
		return false
	}
	for _, c := range e.Classes {
		if c == name {
			return true
		}
	}
	return false
}

// RowQuery describes how to capture playlist rows: the row selector, the
// ordered anchor-selector fallbacks inside a row, and the data attribute
// that may carry the row's media id directly.
type RowQuery struct {
	RowSelector     string
	AnchorSelectors []string
	DataAttr        string
}

// Row is the raw capture of one playlist row. Interpretation (title
// preference, id extraction, current-row decoding) happens in lib/scrape.
type Row struct {
	TitleAttr   string   `json:"titleAttr"`
	Text        string   `json:"text"`
	Href        string   `json:"href"`
	DataID      string   `json:"dataId"`
	Selected    bool     `json:"selected"`
	Classes     []string `json:"classes"`
	AriaCurrent string   `json:"ariaCurrent"`
}

// MediaState is a snapshot of the underlying media element. ElementID is a
// stable identity token for the element instance; it changes when the host
// page swaps the element out.
type MediaState struct {
	ElementID   string  `json:"id"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Paused      bool    `json:"paused"`
	Volume      float64 `json:"volume"`
}

// MediaEvent is a lifecycle event from a bound media element.
type MediaEvent string

const (
	MediaTimeUpdate MediaEvent = "timeupdate"
	MediaPlay       MediaEvent = "play"
	MediaPause      MediaEvent = "pause"
)

// Document is the live host page. All methods are safe for concurrent use.
// Methods return ErrTargetGone once the page's execution context has been
// invalidated for good; that error is terminal for the current session.
type Document interface {
	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)
	// Navigate performs a full navigation to the given URL.
	Navigate(ctx context.Context, url string) error

	// Find captures the first element matched by the ordered selector list,
	// or nil when none match.
	Find(ctx context.Context, selectors ...string) (*Element, error)
	// Click dispatches a user-equivalent pointer sequence
	// (pointerdown, mousedown, mouseup, click) on the first match.
	Click(ctx context.Context, selectors ...string) (bool, error)
	// PressKey dispatches a synthetic keydown on the window.
	PressKey(ctx context.Context, key string) error

	// Rows captures every playlist row matched by the query, in DOM order.
	Rows(ctx context.Context, q RowQuery) ([]Row, error)
	// ClickRow clicks the anchor (or the row itself) of the index-th row.
	ClickRow(ctx context.Context, q RowQuery, index int) (bool, error)

	// RootID returns a stable identity token for the first element matched
	// by selector, or "" when it is absent. The token changes when a
	// different element instance replaces the root.
	RootID(ctx context.Context, selector string) (string, error)
	// WatchMutations observes the subtree under the identified root for
	// child-list changes and the given attribute allow-list. The channel
	// receives one (possibly coalesced) signal per mutation burst.
	WatchMutations(ctx context.Context, rootID string, attrFilter []string) (<-chan struct{}, func(), error)

	// Media snapshots the current media element, or returns (nil, nil) when
	// the page has none.
	Media(ctx context.Context) (*MediaState, error)
	SetMediaTime(ctx context.Context, seconds float64) error
	SetMediaVolume(ctx context.Context, volume float64) error
	PlayMedia(ctx context.Context) error
	PauseMedia(ctx context.Context) error
	// WatchMedia binds playback listeners to the identified media element.
	WatchMedia(ctx context.Context, elementID string) (<-chan MediaEvent, func(), error)

	// BuildAudioGraph lazily builds the page's audio tap (context, analyser,
	// source node) for the current media element and returns the attached
	// element's identity token.
	BuildAudioGraph(ctx context.Context) (string, error)
	// FrequencyData reads one frame of frequency-domain bytes.
	FrequencyData(ctx context.Context) ([]byte, error)
	// CloseAudioGraph tears the audio tap down completely.
	CloseAudioGraph(ctx context.Context) error
}
