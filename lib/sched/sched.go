// Package sched tracks every timer and ticker a session spawns so teardown
// can cancel all of them in one pass and tests can prove none are left
// running afterwards.
package sched

import (
	"sync"
	"time"
)

// Scheduler owns a set of cancellable timers. Zero value is not usable; use New.
type Scheduler struct {
	mu      sync.Mutex
	stopped bool
	next    int
	active  map[int]func()
}

func New() *Scheduler {
	return &Scheduler{active: make(map[int]func())}
}

// After runs fn once after d, unless the scheduler is stopped first.
// The returned cancel function is safe to call more than once.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() {}
	}
	id := s.next
	s.next++

	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.active[id]
		delete(s.active, id)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	s.active[id] = func() { t.Stop() }

	return func() {
		s.mu.Lock()
		stop, ok := s.active[id]
		delete(s.active, id)
		s.mu.Unlock()
		if ok {
			stop()
		}
	}
}

// Every runs fn on a fixed interval until cancelled or the scheduler stops.
func (s *Scheduler) Every(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() {}
	}
	id := s.next
	s.next++

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	s.active[id] = stop

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		stop()
	}
}

// StopAll cancels everything and refuses new work. Idempotent.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	stops := make([]func(), 0, len(s.active))
	for _, stop := range s.active {
		stops = append(stops, stop)
	}
	s.active = make(map[int]func())
	s.stopped = true
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Active reports how many timers are currently pending.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
