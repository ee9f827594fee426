package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterFires(t *testing.T) {
	s := New()
	defer s.StopAll()

	var fired atomic.Int32
	s.After(5*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Active())
}

func TestAfterCancel(t *testing.T) {
	s := New()
	defer s.StopAll()

	var fired atomic.Int32
	cancel := s.After(20*time.Millisecond, func() { fired.Add(1) })
	cancel()
	cancel() // safe to call twice

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 0, s.Active())
}

func TestEvery(t *testing.T) {
	s := New()
	defer s.StopAll()

	var ticks atomic.Int32
	cancel := s.Every(5*time.Millisecond, func() { ticks.Add(1) })

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	n := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), n+1) // at most one in-flight tick after cancel
}

func TestStopAllCancelsEverything(t *testing.T) {
	s := New()

	var fired atomic.Int32
	s.After(20*time.Millisecond, func() { fired.Add(1) })
	s.Every(10*time.Millisecond, func() { fired.Add(1) })
	require.Equal(t, 2, s.Active())

	s.StopAll()
	assert.Equal(t, 0, s.Active())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// stopped scheduler refuses new work
	s.After(time.Millisecond, func() { fired.Add(1) })
	s.Every(time.Millisecond, func() { fired.Add(1) })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 0, s.Active())
}

func TestStopAllIdempotent(t *testing.T) {
	s := New()
	s.After(time.Hour, func() {})
	s.StopAll()
	s.StopAll()
	assert.Equal(t, 0, s.Active())
}
