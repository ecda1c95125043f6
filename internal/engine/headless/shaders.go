package headless

import "sync"

// Shaders is a fixed set of available shading programs.
type Shaders struct {
	mu    sync.RWMutex
	names map[string]bool
}

// NewShaders creates a library containing names.
func NewShaders(names ...string) *Shaders {
	s := &Shaders{names: make(map[string]bool, len(names))}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

func (s *Shaders) Available(shader string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[shader]
}

// Add makes shader available.
func (s *Shaders) Add(shader string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[shader] = true
}
