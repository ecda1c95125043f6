package core

import "time"

// ActivationRecord is journaled when an activation starts.
type ActivationRecord struct {
	ActivationID string
	Generation   uint64
	MarkerID     string
	BackendURL   string
	StartedAt    time.Time
}

// TransitionRecord is journaled on every orchestrator state change.
type TransitionRecord struct {
	ActivationID string
	From         string
	To           string
	Reason       string
	Time         time.Time
}

// SceneRecord is journaled once the descriptor for an activation is fetched.
type SceneRecord struct {
	ActivationID string
	Descriptor   *SceneDescriptor
	Time         time.Time
}

// AnchorRecord is journaled when the anchor is created or moved.
type AnchorRecord struct {
	ActivationID string
	Created      bool
	Pose         Pose
	Time         time.Time
}

// SpawnRecord is journaled for every item the spawn algorithm visits.
type SpawnRecord struct {
	ActivationID string
	AssetID      string
	OrderIndex   int
	Outcome      SpawnOutcome
	Error        string
	Transform    Transform
	LoadDuration time.Duration
	Time         time.Time
}

// SpawnOutcome classifies a visited item.
type SpawnOutcome string

const (
	SpawnOK           SpawnOutcome = "spawned"
	SpawnSkipped      SpawnOutcome = "skipped"
	SpawnUnknownAsset SpawnOutcome = "unknown_asset"
	SpawnLoadFailed   SpawnOutcome = "load_failed"
)
