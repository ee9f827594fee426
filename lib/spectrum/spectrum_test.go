package spectrum

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/page/pagetest"
	"github.com/ampdeck/agent/lib/sched"
)

func TestDownsampleExhaustivePartition(t *testing.T) {
	// 1024 analyser bins into 24 bars: every input index lands in a bin.
	freq := make([]byte, 1024)
	for i := range freq {
		freq[i] = 100
	}
	bars := Downsample(freq, 24)
	require.Len(t, bars, 24)
	for i, b := range bars {
		assert.Equal(t, 100, b, "bar %d", i)
	}
}

func TestDownsampleAveragesWithRounding(t *testing.T) {
	bars := Downsample([]byte{0, 255, 0, 255}, 2)
	require.Len(t, bars, 2)
	// (0+255)/2 = 127.5, rounds to 128.
	assert.Equal(t, 128, bars[0])
	assert.Equal(t, 128, bars[1])
}

func TestDownsampleRaggedTail(t *testing.T) {
	// 10 values into 4 bars: bin size 3, last bin has a single value.
	freq := []byte{10, 10, 10, 20, 20, 20, 30, 30, 30, 90}
	bars := Downsample(freq, 4)
	assert.Equal(t, []int{10, 20, 30, 90}, bars)
}

func TestDownsampleDegenerateInputs(t *testing.T) {
	assert.Equal(t, []int{0, 0, 0}, Downsample(nil, 3))
	assert.Empty(t, Downsample([]byte{1, 2, 3}, 0))

	// Fewer inputs than bars: leading bins get one value each, the rest zero.
	bars := Downsample([]byte{50, 60}, 4)
	assert.Equal(t, []int{50, 60, 0, 0}, bars)
}

func TestDownsampleRange(t *testing.T) {
	freq := make([]byte, 1024)
	for i := range freq {
		freq[i] = byte(i % 256)
	}
	for _, b := range Downsample(freq, 24) {
		assert.GreaterOrEqual(t, b, 0)
		assert.LessOrEqual(t, b, 255)
	}
}

type frameSink struct {
	mu     sync.Mutex
	frames [][]int
}

func (s *frameSink) emit(bars []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, bars)
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newStreamer(t *testing.T, doc *pagetest.Document) (*Streamer, *frameSink) {
	t.Helper()
	timers := sched.New()
	t.Cleanup(timers.StopAll)
	sink := &frameSink{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewStreamer(logger, doc, timers, 4, sink.emit), sink
}

func TestStreamerEmitsFrames(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	doc.SetFrequencyFrame([]byte{10, 20, 30, 40})
	s, sink := newStreamer(t, doc)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	assert.False(t, s.Running())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []int{10, 20, 30, 40}, sink.frames[0])
}

func TestStreamerStartIdempotent(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	s, _ := newStreamer(t, doc)

	require.NoError(t, s.Start(context.Background()))
	builds := doc.AudioBuilds()
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, builds, doc.AudioBuilds())
	s.Stop()
	s.Stop()
}

func TestStreamerRebuildRetryOnce(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	doc.QueueAudioError(errors.New("source node already exists"))
	s, _ := newStreamer(t, doc)

	// First build fails, teardown plus one retry succeeds.
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 2, doc.AudioBuilds())
	s.Stop()
}

func TestStreamerUnavailableAfterSecondFailure(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	doc.QueueAudioError(errors.New("boom"), errors.New("boom again"))
	s, _ := newStreamer(t, doc)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, page.ErrNoAudio)
	assert.False(t, s.Running())
}

func TestStreamerRebuildsOnIdentityChange(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	doc.SetFrequencyFrame([]byte{1, 2, 3, 4})
	s, sink := newStreamer(t, doc)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 10*time.Millisecond)

	doc.SetAudioID("m2")
	doc.SetMedia(&page.MediaState{ElementID: "m2"})

	require.Eventually(t, func() bool { return doc.AudioBuilds() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Running())
	s.Stop()
}

func TestStreamerSelfStopsOnTickFailure(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	s, _ := newStreamer(t, doc)

	require.NoError(t, s.Start(context.Background()))
	doc.SetFrequencyError(errors.New("analyser gone"))

	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamerSkipsTickWithoutMedia(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	doc.SetFrequencyFrame([]byte{5, 5, 5, 5})
	s, sink := newStreamer(t, doc)

	require.NoError(t, s.Start(context.Background()))
	doc.SetMedia(nil)
	time.Sleep(200 * time.Millisecond)
	before := sink.count()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, sink.count())
	assert.True(t, s.Running())
	s.Stop()
}

func TestStreamerCloseTearsDownGraph(t *testing.T) {
	doc := pagetest.NewDocument()
	doc.SetMedia(&page.MediaState{ElementID: "m1"})
	s, _ := newStreamer(t, doc)

	require.NoError(t, s.Start(context.Background()))
	s.Close(context.Background())
	assert.False(t, s.Running())
	assert.True(t, doc.AudioClosed())
}
