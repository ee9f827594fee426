package panel

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/page/pagetest"
	"github.com/ampdeck/agent/lib/proto"
	"github.com/ampdeck/agent/lib/scrape"
	"github.com/ampdeck/agent/lib/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestApplyReplacesFieldsWholesale(t *testing.T) {
	m := NewMirror(testLogger(), "ws://unused", nil)

	m.apply(proto.NewNavigationEvent(proto.NavigationState{MediaID: "abc", HasPlayer: true}))
	m.apply(proto.NewSnapshotEvent(proto.PlayerSnapshot{CurrentTime: 10, PlayState: proto.PlayStatePlaying, Volume: 60}))
	m.apply(proto.NewPlaylistEvent([]proto.PlaylistEntry{{Position: 1, MediaID: "abc"}}))
	m.apply(proto.NewAudioFrameEvent([]int{1, 2, 3}))

	st := m.State()
	assert.Equal(t, "abc", st.Navigation.MediaID)
	assert.Equal(t, proto.PlayStatePlaying, st.Snapshot.PlayState)
	assert.Len(t, st.Playlist, 1)
	assert.Equal(t, []int{1, 2, 3}, st.Bars)

	// Later values replace earlier ones, never merge.
	m.apply(proto.NewSnapshotEvent(proto.PlayerSnapshot{CurrentTime: 11, PlayState: proto.PlayStatePaused, Volume: 60}))
	m.apply(proto.NewAudioFrameEvent([]int{4, 5, 6}))
	st = m.State()
	assert.Equal(t, proto.PlayStatePaused, st.Snapshot.PlayState)
	assert.Equal(t, float64(11), st.Snapshot.CurrentTime)
	assert.Equal(t, []int{4, 5, 6}, st.Bars)
}

func TestApplyErrorSnapshotStopsPlayingIndication(t *testing.T) {
	m := NewMirror(testLogger(), "ws://unused", nil)
	m.apply(proto.NewSnapshotEvent(proto.PlayerSnapshot{PlayState: proto.PlayStatePlaying, CurrentTime: 50}))

	m.apply(proto.NewErrorSnapshotEvent("No video player found"))

	st := m.State()
	assert.Equal(t, proto.PlayStateUnknown, st.Snapshot.PlayState)
	assert.Equal(t, float64(0), st.Snapshot.CurrentTime)
	assert.Equal(t, "No video player found", st.StatusText)
	assert.Empty(t, st.Bars)

	// A healthy snapshot clears the status line.
	m.apply(proto.NewSnapshotEvent(proto.PlayerSnapshot{PlayState: proto.PlayStatePaused}))
	assert.Equal(t, "", m.State().StatusText)
}

func TestDragGuardSuppressesEcho(t *testing.T) {
	m := NewMirror(testLogger(), "ws://unused", nil)
	m.apply(proto.NewSnapshotEvent(proto.PlayerSnapshot{CurrentTime: 30, Volume: 80, PlayState: proto.PlayStatePlaying}))

	m.SetDragging(DragSeek, true)
	m.apply(proto.NewSnapshotEvent(proto.PlayerSnapshot{CurrentTime: 99, Volume: 20, PlayState: proto.PlayStatePlaying}))

	st := m.State()
	assert.Equal(t, float64(30), st.Snapshot.CurrentTime, "held seek slider must not move")
	assert.Equal(t, 20, st.Snapshot.Volume, "volume is not held")

	m.SetDragging(DragSeek, false)
	m.apply(proto.NewSnapshotEvent(proto.PlayerSnapshot{CurrentTime: 100, Volume: 20, PlayState: proto.PlayStatePlaying}))
	assert.Equal(t, float64(100), m.State().Snapshot.CurrentTime)
}

func TestFailedJumpAckSurfacesStatus(t *testing.T) {
	m := NewMirror(testLogger(), "ws://unused", nil)

	m.apply(proto.NewPlayItemAckEvent(true, "abc"))
	assert.Equal(t, "", m.State().StatusText)

	m.apply(proto.NewPlayItemAckEvent(false, "abc"))
	assert.Equal(t, "Could not jump to item", m.State().StatusText)
}

func TestMirrorAgainstLiveSession(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetURL("https://www.youtube.com/watch?v=abc&list=PL1")
	doc.SetMedia(&page.MediaState{ElementID: "m1", Duration: 200, Volume: 1})

	p, err := scrape.DefaultProfile()
	require.NoError(t, err)
	s := session.New(testLogger(), doc, func() scrape.Profile { return p }, 4, session.DefaultTimings())
	defer s.Destroy("test over")
	s.Start(context.Background())

	srv := httptest.NewServer(session.SocketHandler(s))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMirror(testLogger(), srv.URL, nil)
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State().Connected }, 5*time.Second, 20*time.Millisecond)

	// The attach sequence delivers navigation identity without any command.
	require.Eventually(t, func() bool {
		return m.State().Navigation.MediaID == "abc"
	}, 5*time.Second, 20*time.Millisecond)

	// Commands flow back: a jump to an unknown item falls back to navigation
	// and still acks ok.
	require.NoError(t, m.Send(ctx, proto.NewPlayItem("zzz")))
	require.Eventually(t, func() bool {
		return len(doc.NavigatedURLs()) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
