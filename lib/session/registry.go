package session

import "sync"

// Namespace is the well-known registry key for the agent session singleton.
// Two sessions observing the same page would double every push and fight
// over the audio graph, so a new instance always tears down its predecessor.
const Namespace = "ampdeck-agent-session"

type instanceHandle struct {
	teardown func(reason string)
}

type instanceRegistry struct {
	mu      sync.Mutex
	current map[string]*instanceHandle
}

var instances = &instanceRegistry{current: make(map[string]*instanceHandle)}

// install registers a teardown under the namespace, destroying any prior
// holder first.
func (r *instanceRegistry) install(namespace string, teardown func(reason string)) *instanceHandle {
	r.mu.Lock()
	prev := r.current[namespace]
	h := &instanceHandle{teardown: teardown}
	r.current[namespace] = h
	r.mu.Unlock()

	if prev != nil {
		prev.teardown("superseded by new instance")
	}
	return h
}

// release removes the handle, but only while it is still the current holder;
// a successor that already replaced it is left alone.
func (r *instanceRegistry) release(namespace string, h *instanceHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current[namespace] == h {
		delete(r.current, namespace)
	}
}
