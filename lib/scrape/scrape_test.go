package scrape

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/page/pagetest"
	"github.com/ampdeck/agent/lib/proto"
)

func testProfile(t *testing.T) Profile {
	t.Helper()
	p, err := DefaultProfile()
	require.NoError(t, err)
	return p
}

func TestParseNavigationQueryForm(t *testing.T) {
	p := testProfile(t)

	nav := ParseNavigation(p, "https://www.youtube.com/watch?v=abc123&list=PL99")
	assert.Equal(t, "abc123", nav.MediaID)
	assert.Equal(t, "PL99", nav.CollectionID)

	nav = ParseNavigation(p, "https://www.youtube.com/watch?v=abc123")
	assert.Equal(t, "abc123", nav.MediaID)
	assert.Equal(t, "", nav.CollectionID)
}

func TestParseNavigationShortForm(t *testing.T) {
	p := testProfile(t)

	nav := ParseNavigation(p, "https://youtu.be/xyz789")
	assert.Equal(t, "xyz789", nav.MediaID)

	// The query parameter wins when both shapes are present.
	nav = ParseNavigation(p, "https://youtu.be/xyz789?v=other")
	assert.Equal(t, "other", nav.MediaID)
}

func TestParseNavigationNoIdentity(t *testing.T) {
	p := testProfile(t)

	nav := ParseNavigation(p, "https://www.youtube.com/feed/library")
	assert.Equal(t, "", nav.MediaID)
	assert.Equal(t, "", nav.CollectionID)
	assert.Equal(t, "https://www.youtube.com/feed/library", nav.URL)
}

func TestDetectorLatchesState(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()
	doc.SetURL("https://www.youtube.com/watch?v=abc&list=PL1")
	doc.SetMedia(&page.MediaState{ElementID: "m1"})

	d := NewDetector(func() Profile { return p })
	nav, err := d.Detect(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "abc", nav.MediaID)
	assert.True(t, nav.HasPlayer)
	assert.Equal(t, nav, d.Current())

	doc.SetURL("https://www.youtube.com/watch?v=def")
	doc.SetMedia(nil)
	nav, err = d.Detect(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "def", nav.MediaID)
	assert.False(t, nav.HasPlayer)
	assert.Equal(t, "def", d.Current().MediaID)
}

func TestPlayStatePrefersMediaElement(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()

	doc.SetMedia(&page.MediaState{ElementID: "m1", Paused: false})
	assert.Equal(t, proto.PlayStatePlaying, PlayState(context.Background(), doc, p))

	doc.SetMedia(&page.MediaState{ElementID: "m1", Paused: true})
	assert.Equal(t, proto.PlayStatePaused, PlayState(context.Background(), doc, p))
}

func TestPlayStateButtonFallback(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()

	assert.Equal(t, proto.PlayStateUnknown, PlayState(context.Background(), doc, p))

	doc.SetElement(p.PauseButton[0], &page.Element{Attrs: map[string]string{"aria-label": "Pause"}})
	assert.Equal(t, proto.PlayStatePlaying, PlayState(context.Background(), doc, p))
}

func TestShuffleDetection(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()

	assert.False(t, Shuffle(context.Background(), doc, p))

	doc.SetElement(".ytp-shuffle-button", &page.Element{Classes: []string{"ytp-shuffle-button"}})
	assert.False(t, Shuffle(context.Background(), doc, p))

	doc.SetElement(".ytp-shuffle-button", &page.Element{Classes: []string{"ytp-shuffle-button", "ytp-shuffle-button-enabled"}})
	assert.True(t, Shuffle(context.Background(), doc, p))

	doc.SetElement(".ytp-shuffle-button", &page.Element{Attrs: map[string]string{"aria-pressed": "true"}})
	assert.True(t, Shuffle(context.Background(), doc, p))
}

func TestLoopLabelDecoding(t *testing.T) {
	p := testProfile(t)
	ctx := context.Background()

	cases := []struct {
		name string
		el   *page.Element
		want proto.RepeatMode
	}{
		{"absent control", nil, proto.RepeatOff},
		{"repeat all label", &page.Element{Attrs: map[string]string{"aria-label": "Repeat all"}}, proto.RepeatCollection},
		{"repeat playlist title", &page.Element{Attrs: map[string]string{"title": "Repeat playlist"}}, proto.RepeatCollection},
		{"repeat one label", &page.Element{Attrs: map[string]string{"aria-label": "Repeat one"}}, proto.RepeatSingle},
		{"repeat this title", &page.Element{Attrs: map[string]string{"title": "Repeat this track"}}, proto.RepeatSingle},
		{"enabled class no label", &page.Element{Classes: []string{"ytp-repeat-button-enabled"}}, proto.RepeatCollection},
		{"pressed no label", &page.Element{Attrs: map[string]string{"aria-pressed": "true"}}, proto.RepeatCollection},
		{"plain control", &page.Element{Attrs: map[string]string{"aria-label": "Loop"}}, proto.RepeatOff},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := pagetest.NewDocument()
			if tc.el != nil {
				doc.SetElement(".ytp-repeat-button", tc.el)
			}
			assert.Equal(t, tc.want, Loop(ctx, doc, p))
		})
	}
}

func TestSnapshotAssembly(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1", CurrentTime: 42.5, Duration: 180, Paused: false, Volume: 0.75})
	doc.SetElement(p.Title[0], &page.Element{Text: "Some Song"})

	nav := proto.NavigationState{MediaID: "abc", CollectionID: "PL1"}
	snap, err := Snapshot(context.Background(), doc, p, nav)
	require.NoError(t, err)
	assert.Equal(t, 42.5, snap.CurrentTime)
	assert.Equal(t, float64(180), snap.Duration)
	assert.Equal(t, proto.PlayStatePlaying, snap.PlayState)
	assert.Equal(t, "Some Song", snap.Title)
	assert.Equal(t, 75, snap.Volume)
	assert.Equal(t, "abc", snap.MediaID)
	assert.Equal(t, "PL1", snap.CollectionID)
}

func TestSnapshotNoMediaElement(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()

	snap, err := Snapshot(context.Background(), doc, p, proto.NavigationState{})
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Error)
}

func TestMediaIDFromHref(t *testing.T) {
	assert.Equal(t, "abc", MediaIDFromHref("/watch?v=abc&list=PL1", "v"))
	assert.Equal(t, "abc", MediaIDFromHref("https://www.youtube.com/watch?v=abc", "v"))
	assert.Equal(t, "", MediaIDFromHref("/playlist", "v"))
	assert.Equal(t, "", MediaIDFromHref("", "v"))
}

func TestPlaylistExtraction(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()
	doc.SetRows([]page.Row{
		{TitleAttr: "First Song", Href: "/watch?v=aaa&list=PL1"},
		{Text: "Second Song", Href: "/watch?v=bbb&list=PL1", Selected: true},
		{TitleAttr: "Third Song", DataID: "ccc", AriaCurrent: "false"},
		{TitleAttr: "Fourth Song", Href: "/watch?v=ddd", AriaCurrent: "page-token"},
		{Text: "Class Current", Href: "/watch?v=eee", Classes: []string{"row", "selected"}},
	})

	items, err := Playlist(context.Background(), doc, p)
	require.NoError(t, err)
	require.Len(t, items, 5)

	assert.Equal(t, proto.PlaylistEntry{Position: 1, Title: "First Song", MediaID: "aaa"}, items[0])
	assert.Equal(t, proto.PlaylistEntry{Position: 2, Title: "Second Song", MediaID: "bbb", IsCurrent: true}, items[1])
	// The data attribute wins over href parsing; aria-current "false" is not current.
	assert.Equal(t, proto.PlaylistEntry{Position: 3, Title: "Third Song", MediaID: "ccc"}, items[2])
	// A page-scoped aria-current token is current despite not being "true".
	assert.True(t, items[3].IsCurrent)
	assert.True(t, items[4].IsCurrent)
}

func TestSignatureStability(t *testing.T) {
	a := []proto.PlaylistEntry{
		{Position: 1, Title: "One", MediaID: "aaa", IsCurrent: true},
		{Position: 2, Title: "Two", MediaID: "bbb"},
	}
	b := []proto.PlaylistEntry{
		{Position: 1, Title: "One", MediaID: "aaa", IsCurrent: true},
		{Position: 2, Title: "Two", MediaID: "bbb"},
	}
	assert.Equal(t, Signature(a), Signature(b))

	b[1].IsCurrent = true
	assert.NotEqual(t, Signature(a), Signature(b))

	assert.Equal(t, "", Signature(nil))
}

func TestWatchURLFor(t *testing.T) {
	p := testProfile(t)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc&list=PL1", WatchURLFor(p, "abc", "PL1"))
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", WatchURLFor(p, "abc", ""))
}

func TestFindRow(t *testing.T) {
	p := testProfile(t)
	doc := pagetest.NewDocument()
	doc.SetRows([]page.Row{
		{Href: "/watch?v=aaa"},
		{DataID: "bbb"},
	})

	idx, err := FindRow(context.Background(), doc, p.PanelQuery(), p.MediaParam, "bbb")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = FindRow(context.Background(), doc, p.PanelQuery(), p.MediaParam, "zzz")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestStoreOverrideReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")

	store, err := NewStore(slog.New(slog.NewTextHandler(os.Stderr, nil)), path)
	require.NoError(t, err)
	defer store.Close()

	// No override file yet: the embedded default is active.
	assert.Equal(t, "default", store.Profile().Name)

	modified := bytes.Replace(defaultProfileYAML, []byte("name: default"), []byte("name: override"), 1)
	require.NoError(t, os.WriteFile(path, modified, 0o644))

	require.Eventually(t, func() bool {
		return store.Profile().Name == "override"
	}, 3*time.Second, 20*time.Millisecond)

	// A broken edit keeps the last good profile.
	require.NoError(t, os.WriteFile(path, []byte("name: [broken"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "override", store.Profile().Name)
}
