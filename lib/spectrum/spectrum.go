// Package spectrum streams the host page's audio frequency spectrum as
// fixed-length bar frames. The in-page analyser graph is built lazily and
// rebuilt when the playback element's identity changes; a second consecutive
// build failure yields a clean unavailable result instead of a retry loop.
package spectrum

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/sched"
)

const (
	// DefaultBars is the fixed output bar count.
	DefaultBars = 24
	// sampleInterval is the streaming cadence, about 20 Hz.
	sampleInterval = 50 * time.Millisecond
)

// Downsample partitions the frequency array into contiguous bins, one per
// output bar, and averages each with integer rounding. Every input index
// lands in exactly one bin; the final bin absorbs the remainder when the
// input does not divide evenly.
func Downsample(freq []byte, bars int) []int {
	out := make([]int, bars)
	if len(freq) == 0 || bars <= 0 {
		return out
	}

	binSize := (len(freq) + bars - 1) / bars
	for i := 0; i < bars; i++ {
		start := i * binSize
		end := start + binSize
		if end > len(freq) {
			end = len(freq)
		}
		if start >= end {
			break
		}
		sum := 0
		for _, v := range freq[start:end] {
			sum += int(v)
		}
		count := end - start
		out[i] = (sum + count/2) / count
	}
	return out
}

// Streamer owns the audio tap lifecycle. Start and Stop are idempotent;
// Close additionally tears the in-page graph down.
type Streamer struct {
	logger *slog.Logger
	doc    page.Document
	timers *sched.Scheduler
	bars   int
	emit   func(bars []int)

	mu         sync.Mutex
	running    bool
	cancelTick func()
	attachedID string
}

func NewStreamer(logger *slog.Logger, doc page.Document, timers *sched.Scheduler, bars int, emit func([]int)) *Streamer {
	if bars <= 0 {
		bars = DefaultBars
	}
	return &Streamer{logger: logger, doc: doc, timers: timers, bars: bars, emit: emit}
}

// buildGraph builds the in-page analyser graph, retrying exactly once after
// a full teardown. Creating a second source node for the same element throws
// in some hosts; the teardown-and-rebuild clears that state.
func (s *Streamer) buildGraph(ctx context.Context) (string, error) {
	id, err := s.doc.BuildAudioGraph(ctx)
	if err == nil {
		return id, nil
	}
	s.logger.Debug("audio graph build failed, rebuilding once", "err", err)

	if cerr := s.doc.CloseAudioGraph(ctx); cerr != nil {
		return "", fmt.Errorf("%w: %v", page.ErrNoAudio, cerr)
	}
	id, err = s.doc.BuildAudioGraph(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", page.ErrNoAudio, err)
	}
	return id, nil
}

// Start builds the graph and begins the fixed-cadence sampling loop.
// Starting while already streaming is a no-op.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	id, err := s.buildGraph(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.attachedID = id
	s.cancelTick = s.timers.Every(sampleInterval, s.tick)
	s.running = true
	s.logger.Info("spectrum stream started", "element", id, "bars", s.bars)
	return nil
}

// Stop halts the sampling loop, leaving the in-page graph in place for a
// later restart. Stopping while not streaming is a no-op.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Streamer) stopLocked() {
	if !s.running {
		return
	}
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	s.running = false
	s.logger.Info("spectrum stream stopped")
}

// Running reports whether the sampling loop is live.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close stops streaming and tears the in-page graph down.
func (s *Streamer) Close(ctx context.Context) {
	s.Stop()
	if err := s.doc.CloseAudioGraph(ctx); err != nil {
		s.logger.Debug("audio graph close failed", "err", err)
	}
	s.mu.Lock()
	s.attachedID = ""
	s.mu.Unlock()
}

// tick runs one sampling pass. Any failure stops the stream: a broken timer
// firing forever is worse than a stopped visualiser.
func (s *Streamer) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sampleInterval*4)
	defer cancel()

	m, err := s.doc.Media(ctx)
	if err != nil {
		s.failStop("media read failed", err)
		return
	}
	if m == nil {
		return
	}

	s.mu.Lock()
	attached := s.attachedID
	s.mu.Unlock()

	// The host page can swap the playback element out from under the graph.
	if m.ElementID != attached {
		id, err := s.buildGraph(ctx)
		if err != nil {
			s.failStop("graph rebuild failed", err)
			return
		}
		s.mu.Lock()
		s.attachedID = id
		s.mu.Unlock()
	}

	freq, err := s.doc.FrequencyData(ctx)
	if err != nil {
		s.failStop("frequency read failed", err)
		return
	}
	s.emit(Downsample(freq, s.bars))
}

func (s *Streamer) failStop(msg string, err error) {
	s.logger.Warn("spectrum stream halted: "+msg, "err", err)
	s.Stop()
}
