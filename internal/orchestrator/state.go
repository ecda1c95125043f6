package orchestrator

import "fmt"

// State is the orchestrator lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateRegistering
	StateAwaitingTracking
	StateSpawning
	StateSteady
	StateFailed
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateFetching:         "fetching",
	StateRegistering:      "registering",
	StateAwaitingTracking: "awaiting_tracking",
	StateSpawning:         "spawning",
	StateSteady:           "steady",
	StateFailed:           "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// acceptsTracking reports whether tracking events are processed in s.
func (s State) acceptsTracking() bool {
	return s == StateAwaitingTracking || s == StateSpawning || s == StateSteady
}

type spawnStatus int

const (
	spawnNotStarted spawnStatus = iota
	spawnInProgress
	spawnDone
)
