package session

import "time"

// Timings are the settle delays around session pushes. The host page applies
// its own UI updates asynchronously after both navigations and actuations;
// these delays let it finish before the agent re-reads state. Tests shrink
// them to keep the suite fast.
type Timings struct {
	// AttachSnapshot delays the first snapshot push after a panel connects.
	AttachSnapshot time.Duration
	// NavSnapshot delays the snapshot push after a location change.
	NavSnapshot time.Duration
	// NavRearm delays re-arming the media watcher after a location change.
	NavRearm time.Duration
	// NavPlaylist delays the playlist observer rebuild after a location
	// change; the playlist panel often re-renders late.
	NavPlaylist time.Duration
	// JumpRefresh delays the full refresh after a jump-to-item actuation.
	JumpRefresh time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		AttachSnapshot: 250 * time.Millisecond,
		NavSnapshot:    600 * time.Millisecond,
		NavRearm:       700 * time.Millisecond,
		NavPlaylist:    900 * time.Millisecond,
		JumpRefresh:    900 * time.Millisecond,
	}
}
