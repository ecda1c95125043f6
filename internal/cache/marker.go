package cache

import (
	"sync"
	"time"
)

// MarkerRegistration describes one reference image handed to the tracker.
type MarkerRegistration struct {
	WidthM       float64
	RegisteredAt time.Time
	Count        int
}

// MarkerCache remembers which marker names were registered in this process.
// The tracker reconciles duplicates itself; this is only used for diagnostics.
type MarkerCache struct {
	mu      sync.RWMutex
	markers map[string]MarkerRegistration
}

// NewMarkerCache creates a new MarkerCache
func NewMarkerCache() *MarkerCache {
	return &MarkerCache{
		markers: make(map[string]MarkerRegistration),
	}
}

// Get retrieves a registration by marker name
func (c *MarkerCache) Get(name string) (MarkerRegistration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.markers[name]
	return reg, ok
}

// Record notes a completed registration and returns the updated entry.
func (c *MarkerCache) Record(name string, widthM float64, at time.Time) MarkerRegistration {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg := c.markers[name]
	reg.WidthM = widthM
	reg.RegisteredAt = at
	reg.Count++
	c.markers[name] = reg
	return reg
}

// Len returns the number of distinct marker names seen.
func (c *MarkerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markers)
}

// Reset clears all registrations
func (c *MarkerCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]MarkerRegistration)
}
