package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rookie-ar/markerscene/internal/logging"
)

// Snapshot is a point-in-time copy of the activation context.
type Snapshot struct {
	ActivationID string `json:"activationId"`
	Generation   uint64 `json:"generation"`
	MarkerID     string `json:"markerId"`
	State        string `json:"state"`
}

// Context holds the identity of the current activation. The orchestrator loop
// is the only writer; loggers and the status endpoint read it concurrently.
type Context struct {
	mu           sync.RWMutex
	activationID string
	generation   uint64
	markerID     string
	state        string
}

// NewContext creates a Context with no activation.
func NewContext() *Context {
	return &Context{state: "idle"}
}

// Begin starts a new activation and returns its id and generation. Work
// tagged with an older generation is stale.
func (c *Context) Begin(markerID string) (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.activationID = uuid.NewString()
	c.markerID = markerID
	return c.activationID, c.generation
}

// SetState records the orchestrator state name.
func (c *Context) SetState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// IsCurrent reports whether gen is still the live generation.
func (c *Context) IsCurrent(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gen == c.generation
}

// Generation returns the live generation.
func (c *Context) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Snapshot returns a copy of the current values.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		ActivationID: c.activationID,
		Generation:   c.generation,
		MarkerID:     c.markerID,
		State:        c.state,
	}
}

// LogAttrs is a logging.ContextProvider.
func (c *Context) LogAttrs() []slog.Attr {
	s := c.Snapshot()
	return logging.ActivationAttrs(s.ActivationID, s.MarkerID, s.State)
}
