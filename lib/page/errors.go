package page

import "errors"

var (
	// ErrTargetGone means the host page's execution context has been
	// invalidated (target closed, session detached). Terminal for the
	// current agent instance; a fresh attach gets a fresh instance.
	ErrTargetGone = errors.New("page: target gone")

	// ErrNoTarget means no eligible host page could be located.
	ErrNoTarget = errors.New("page: no eligible page target")

	// ErrNoAudio means the audio tap could not be built and the bounded
	// rebuild retry has been spent.
	ErrNoAudio = errors.New("page: audio graph unavailable")
)
