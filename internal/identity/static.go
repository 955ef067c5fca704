package identity

import "sync"

// Static is a Source whose identity only changes through Set.
type Static struct {
	mu      sync.Mutex
	current Identity
	updates chan Identity
}

// NewStatic returns a source that starts at id.
func NewStatic(id Identity) *Static {
	return &Static{current: id, updates: make(chan Identity, 1)}
}

// Current implements Source.
func (s *Static) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Updates implements Source.
func (s *Static) Updates() <-chan Identity {
	return s.updates
}

// Set changes the identity and emits it if it differs from the current one.
func (s *Static) Set(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.current {
		return
	}
	s.current = id
	publishLatest(s.updates, id)
}

// publishLatest replaces any unread value in ch with id.
func publishLatest(ch chan Identity, id Identity) {
	for {
		select {
		case ch <- id:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
