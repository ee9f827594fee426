package scrape

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/proto"
)

// ParseNavigation extracts the media and collection identifiers from a
// location. Two URL shapes are accepted: the query-parameter form
// (?v=ID&list=COLLECTION) and the short-link form (short host with the id as
// the leading path segment).
func ParseNavigation(p Profile, rawURL string) proto.NavigationState {
	nav := proto.NavigationState{URL: rawURL}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nav
	}

	q := u.Query()
	nav.MediaID = q.Get(p.MediaParam)
	nav.CollectionID = q.Get(p.CollectionParam)

	if nav.MediaID == "" {
		host := strings.TrimPrefix(u.Hostname(), "www.")
		for _, short := range p.ShortHosts {
			if host != short {
				continue
			}
			if seg := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)[0]; seg != "" {
				nav.MediaID = seg
			}
			break
		}
	}
	return nav
}

// Detector latches the authoritative navigation identity. Detection is the
// one scrape with a mutation side effect: snapshot assembly enriches player
// state with the latched media and collection ids.
type Detector struct {
	profile func() Profile

	mu      sync.Mutex
	current proto.NavigationState
}

func NewDetector(profile func() Profile) *Detector {
	return &Detector{profile: profile}
}

// Detect re-reads the location, latches the parsed identity and returns it.
func (d *Detector) Detect(ctx context.Context, doc page.Document) (proto.NavigationState, error) {
	rawURL, err := doc.URL(ctx)
	if err != nil {
		return proto.NavigationState{}, err
	}
	nav := ParseNavigation(d.profile(), rawURL)
	if m, err := doc.Media(ctx); err == nil && m != nil {
		nav.HasPlayer = true
	}

	d.mu.Lock()
	d.current = nav
	d.mu.Unlock()
	return nav, nil
}

// Current returns the last latched navigation state.
func (d *Detector) Current() proto.NavigationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
