package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Activation{},
	&StateTransition{},
	&AnchorSample{},
	&SpawnRecord{},
}

// Activation is one activation request and the scene it resolved to.
type Activation struct {
	ID           uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	ActivationID string         `json:"activationId" gorm:"size:36;uniqueIndex"`
	Generation   uint64         `json:"generation"`
	MarkerID     string         `json:"markerId" gorm:"size:255;index:idx_activation_marker_id"`
	BackendURL   string         `json:"backendUrl" gorm:"size:1024"`
	StartedAt    time.Time      `json:"startedAt" gorm:"type:timestamptz;"`
	SceneID      string         `json:"sceneId" gorm:"size:255"`
	Descriptor   datatypes.JSON `json:"descriptor"` // scene descriptor as fetched, set once known
	SceneTime    *time.Time     `json:"sceneTime" gorm:"type:timestamptz;"`
}

func (*Activation) TableName() string {
	return "activations"
}

// StateTransition is one orchestrator state change.
type StateTransition struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	ActivationID string    `json:"activationId" gorm:"size:36;index:idx_transition_activation_id"`
	Time         time.Time `json:"time" gorm:"type:timestamptz;"`
	FromState    string    `json:"from" gorm:"size:32"`
	ToState      string    `json:"to" gorm:"size:32"`
	Reason       string    `json:"reason" gorm:"size:255"`
}

func (*StateTransition) TableName() string {
	return "state_transitions"
}

// AnchorSample is a sampled anchor pose. Position is in session space.
type AnchorSample struct {
	ID           uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	ActivationID string     `json:"activationId" gorm:"size:36;index:idx_anchor_activation_id"`
	Time         time.Time  `json:"time" gorm:"type:timestamptz;"`
	Created      bool       `json:"created" gorm:"default:false"` // first sample of the anchor
	Position     geom.Point `json:"position"`
	RotX         float64    `json:"rotX"`
	RotY         float64    `json:"rotY"`
	RotZ         float64    `json:"rotZ"`
	RotW         float64    `json:"rotW"`
}

func (*AnchorSample) TableName() string {
	return "anchor_samples"
}

// SpawnRecord is the outcome of one item visited by the spawn.
type SpawnRecord struct {
	ID             uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	ActivationID   string         `json:"activationId" gorm:"size:36;index:idx_spawn_activation_id"`
	Time           time.Time      `json:"time" gorm:"type:timestamptz;"`
	AssetID        string         `json:"assetId" gorm:"size:255;index:idx_spawn_asset_id"`
	OrderIndex     int            `json:"orderIndex"`
	Outcome        string         `json:"outcome" gorm:"size:32"`
	Error          string         `json:"error" gorm:"size:2048"`
	Transform      datatypes.JSON `json:"transform"` // sanitized local transform, spawned items only
	LoadDurationMs float64        `json:"loadDurationMs"`
}

func (*SpawnRecord) TableName() string {
	return "spawn_records"
}
