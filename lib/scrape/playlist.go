package scrape

import (
	"context"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/proto"
)

// MediaIDFromHref extracts the media id from a row anchor's href query
// string, or "" when the href carries none.
func MediaIDFromHref(href, param string) string {
	if href == "" {
		return ""
	}
	_, query, found := strings.Cut(href, "?")
	if !found {
		return ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return ""
	}
	return values.Get(param)
}

// rowEntry interprets one raw row capture. Title prefers the anchor's
// explicit title attribute over its text; the media id prefers the data
// attribute over href parsing. The current-row flag accepts the selected
// attribute, a "selected" class, or any present aria-current value other
// than the literal "false" (host markup uses a page-scoped token there, not
// a boolean).
func rowEntry(row page.Row, position int, mediaParam string) proto.PlaylistEntry {
	title := row.TitleAttr
	if title == "" {
		title = row.Text
	}

	mediaID := row.DataID
	if mediaID == "" {
		mediaID = MediaIDFromHref(row.Href, mediaParam)
	}

	current := row.Selected ||
		lo.Contains(row.Classes, "selected") ||
		(row.AriaCurrent != "" && row.AriaCurrent != "false")

	return proto.PlaylistEntry{
		Position:  position,
		Title:     title,
		MediaID:   mediaID,
		IsCurrent: current,
	}
}

// Playlist scrapes the inline panel layout into an ordered entry list.
// Positions are 1-based and stable within the single pass.
func Playlist(ctx context.Context, doc page.Document, p Profile) ([]proto.PlaylistEntry, error) {
	rows, err := doc.Rows(ctx, p.PanelQuery())
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row page.Row, i int) proto.PlaylistEntry {
		return rowEntry(row, i+1, p.MediaParam)
	}), nil
}

// Signature reduces a playlist to its identity string. Two scrapes with the
// same (mediaId, title, isCurrent) sequence produce equal signatures no
// matter what else churned in the DOM.
func Signature(items []proto.PlaylistEntry) string {
	parts := lo.Map(items, func(e proto.PlaylistEntry, _ int) string {
		current := "0"
		if e.IsCurrent {
			current = "1"
		}
		return e.MediaID + ":" + e.Title + ":" + current
	})
	return strings.Join(parts, "|")
}

// WatchURLFor builds the navigation fallback URL for a media id, preserving
// the active collection id when one is latched.
func WatchURLFor(p Profile, mediaID, collectionID string) string {
	u := p.WatchURL + "?" + p.MediaParam + "=" + url.QueryEscape(mediaID)
	if collectionID != "" {
		u += "&" + p.CollectionParam + "=" + url.QueryEscape(collectionID)
	}
	return u
}

// FindRow locates the index of the row whose extracted media id matches, in
// the given layout. Returns -1 when no row matches.
func FindRow(ctx context.Context, doc page.Document, q page.RowQuery, mediaParam, mediaID string) (int, error) {
	rows, err := doc.Rows(ctx, q)
	if err != nil {
		return -1, err
	}
	for i, row := range rows {
		id := row.DataID
		if id == "" {
			id = MediaIDFromHref(row.Href, mediaParam)
		}
		if id == mediaID {
			return i, nil
		}
	}
	return -1, nil
}
