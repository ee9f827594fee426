// Package scrape extracts player and playlist signals from the host page.
// Every getter is a pure function of current page state and never fails hard:
// read errors collapse to safe defaults (false, 0, OFF, empty) so snapshot
// assembly always completes.
package scrape

import (
	_ "embed"
	"fmt"

	"github.com/ghodss/yaml"

	"github.com/ampdeck/agent/lib/page"
)

//go:embed profiles.yaml
var defaultProfileYAML []byte

// RowsSpec describes one playlist row layout.
type RowsSpec struct {
	Row      string   `json:"row"`
	Anchors  []string `json:"anchors"`
	DataAttr string   `json:"dataAttr"`
}

// Profile is the selector profile for one host-page family. Selector fields
// are ordered fallback lists; the first match wins. Markup and labels vary
// across host versions and locales, which is the whole reason these are data
// instead of code.
type Profile struct {
	Name         string   `json:"name"`
	HostPatterns []string `json:"hostPatterns"`

	ShortHosts      []string `json:"shortHosts"`
	MediaParam      string   `json:"mediaParam"`
	CollectionParam string   `json:"collectionParam"`
	WatchURL        string   `json:"watchURL"`

	Title           []string `json:"title"`
	PlayButton      []string `json:"playButton"`
	PauseButton     []string `json:"pauseButton"`
	NextButton      []string `json:"nextButton"`
	PrevButton      []string `json:"prevButton"`
	PrevFallbackKey string   `json:"prevFallbackKey"`

	ShuffleButton       []string `json:"shuffleButton"`
	ShuffleEnabledClass string   `json:"shuffleEnabledClass"`
	LoopButton          []string `json:"loopButton"`
	LoopEnabledClass    string   `json:"loopEnabledClass"`

	PlaylistRoot string   `json:"playlistRoot"`
	PanelRows    RowsSpec `json:"panelRows"`
	PageRows     RowsSpec `json:"pageRows"`
}

// PanelQuery returns the row query for the inline playlist panel layout.
func (p Profile) PanelQuery() page.RowQuery {
	return page.RowQuery{RowSelector: p.PanelRows.Row, AnchorSelectors: p.PanelRows.Anchors, DataAttr: p.PanelRows.DataAttr}
}

// PageQuery returns the row query for the full playlist page layout.
func (p Profile) PageQuery() page.RowQuery {
	return page.RowQuery{RowSelector: p.PageRows.Row, AnchorSelectors: p.PageRows.Anchors, DataAttr: p.PageRows.DataAttr}
}

// DefaultProfile returns the embedded selector profile.
func DefaultProfile() (Profile, error) {
	return parseProfile(defaultProfileYAML)
}

func parseProfile(raw []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse selector profile: %w", err)
	}
	if err := p.validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p Profile) validate() error {
	switch {
	case len(p.HostPatterns) == 0:
		return fmt.Errorf("selector profile %q: no host patterns", p.Name)
	case p.MediaParam == "":
		return fmt.Errorf("selector profile %q: no media query parameter", p.Name)
	case p.WatchURL == "":
		return fmt.Errorf("selector profile %q: no watch URL", p.Name)
	case p.PlaylistRoot == "":
		return fmt.Errorf("selector profile %q: no playlist root selector", p.Name)
	case p.PanelRows.Row == "" || p.PageRows.Row == "":
		return fmt.Errorf("selector profile %q: missing playlist row layout", p.Name)
	}
	return nil
}
