package observe

import (
	"sync"

	"github.com/ampdeck/agent/lib/proto"
	"github.com/ampdeck/agent/lib/scrape"
)

// PlaylistNotifier dedups playlist sends. Identical listings are suppressed
// by signature comparison unless forced, and an empty listing (container
// absent) is sent at most once per absent period.
type PlaylistNotifier struct {
	scrapeFn func() (items []proto.PlaylistEntry, rootPresent bool)
	send     func(items []proto.PlaylistEntry)

	mu        sync.Mutex
	lastSig   string
	sentEmpty bool
}

func NewPlaylistNotifier(scrapeFn func() ([]proto.PlaylistEntry, bool), send func([]proto.PlaylistEntry)) *PlaylistNotifier {
	return &PlaylistNotifier{scrapeFn: scrapeFn, send: send}
}

// Notify scrapes and sends when the listing changed (or force is set).
func (n *PlaylistNotifier) Notify(force bool) {
	items, rootPresent := n.scrapeFn()

	n.mu.Lock()
	defer n.mu.Unlock()

	if !rootPresent {
		if n.sentEmpty {
			return
		}
		n.sentEmpty = true
		n.lastSig = ""
		n.send([]proto.PlaylistEntry{})
		return
	}
	n.sentEmpty = false

	sig := scrape.Signature(items)
	if !force && sig == n.lastSig {
		return
	}
	n.lastSig = sig
	n.send(items)
}

// Reset clears the dedup state, so the next Notify always sends.
func (n *PlaylistNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastSig = ""
	n.sentEmpty = false
}
