package cache

import (
	"sync"

	"github.com/rookie-ar/markerscene/internal/engine"
)

// SpawnRegistry maps asset ids to the content node spawned for them during
// the current activation. An asset id enters the registry at most once until
// the next Reset.
type SpawnRegistry struct {
	mu      sync.Mutex
	spawned map[string]engine.NodeID
}

func NewSpawnRegistry() *SpawnRegistry {
	return &SpawnRegistry{
		spawned: make(map[string]engine.NodeID),
	}
}

// Reset clears the registry. Called at the start of every activation.
func (r *SpawnRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawned = make(map[string]engine.NodeID)
}

// Add registers node under assetID. It returns false and leaves the existing
// entry untouched when assetID is already present.
func (r *SpawnRegistry) Add(assetID string, node engine.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.spawned[assetID]; ok {
		return false
	}
	r.spawned[assetID] = node
	return true
}

func (r *SpawnRegistry) Get(assetID string) (engine.NodeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.spawned[assetID]
	return n, ok
}

func (r *SpawnRegistry) Has(assetID string) bool {
	_, ok := r.Get(assetID)
	return ok
}

func (r *SpawnRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spawned)
}

// Snapshot returns a copy safe to hand outside the orchestrator loop.
func (r *SpawnRegistry) Snapshot() map[string]engine.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]engine.NodeID, len(r.spawned))
	for k, v := range r.spawned {
		out[k] = v
	}
	return out
}
