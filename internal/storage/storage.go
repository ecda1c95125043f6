// Package storage defines the activation journal backends.
package storage

import "github.com/rookie-ar/markerscene/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Journal
	RecordActivation(r *core.ActivationRecord) error
	RecordTransition(r *core.TransitionRecord) error
	RecordScene(r *core.SceneRecord) error
	RecordAnchor(r *core.AnchorRecord) error
	RecordSpawn(r *core.SpawnRecord) error
}

// Exporter is an optional interface for backends that can write their
// contents to a file.
type Exporter interface {
	Export(path string) error
}
