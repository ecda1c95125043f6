// Package memory keeps the activation journal in memory and can export it
// as a msgpack file.
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rookie-ar/markerscene/internal/config"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// ActivationLog groups an activation with everything journaled for it.
type ActivationLog struct {
	Activation  core.ActivationRecord
	Scene       *core.SceneDescriptor
	Transitions []core.TransitionRecord
	Anchors     []core.AnchorRecord
	Spawns      []core.SpawnRecord
}

// Backend stores the journal in memory
type Backend struct {
	cfg config.MemoryConfig
	log zerolog.Logger

	logs  map[string]*ActivationLog // keyed by activation id
	order []string                  // activation ids, first seen first
	mu    sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, log zerolog.Logger) *Backend {
	return &Backend{
		cfg:  cfg,
		log:  log,
		logs: make(map[string]*ActivationLog),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the journal when an export path is configured.
func (b *Backend) Close() error {
	if b.cfg.ExportPath == "" {
		return nil
	}
	if err := b.Export(b.cfg.ExportPath); err != nil {
		return fmt.Errorf("export on close: %w", err)
	}
	return nil
}

// entry returns the log for id, creating it. Callers hold the write lock.
func (b *Backend) entry(id string) *ActivationLog {
	l, ok := b.logs[id]
	if !ok {
		l = &ActivationLog{Activation: core.ActivationRecord{ActivationID: id}}
		b.logs[id] = l
		b.order = append(b.order, id)
	}
	return l
}

// RecordActivation starts the log of an activation.
func (b *Backend) RecordActivation(r *core.ActivationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry(r.ActivationID).Activation = *r
	return nil
}

// RecordTransition appends a state change.
func (b *Backend) RecordTransition(r *core.TransitionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.entry(r.ActivationID)
	l.Transitions = append(l.Transitions, *r)
	return nil
}

// RecordScene stores the fetched descriptor.
func (b *Backend) RecordScene(r *core.SceneRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry(r.ActivationID).Scene = r.Descriptor
	return nil
}

// RecordAnchor appends an anchor sample.
func (b *Backend) RecordAnchor(r *core.AnchorRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.entry(r.ActivationID)
	l.Anchors = append(l.Anchors, *r)
	return nil
}

// RecordSpawn appends a spawn outcome.
func (b *Backend) RecordSpawn(r *core.SpawnRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.entry(r.ActivationID)
	l.Spawns = append(l.Spawns, *r)
	return nil
}

// Activation returns a copy of the log for id.
func (b *Backend) Activation(id string) (ActivationLog, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.logs[id]
	if !ok {
		return ActivationLog{}, false
	}
	return l.clone(), true
}

// Activations returns copies of every log in the order activations were first seen.
func (b *Backend) Activations() []ActivationLog {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ActivationLog, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.logs[id].clone())
	}
	return out
}

func (l *ActivationLog) clone() ActivationLog {
	c := *l
	c.Transitions = slices.Clone(l.Transitions)
	c.Anchors = slices.Clone(l.Anchors)
	c.Spawns = slices.Clone(l.Spawns)
	return c
}
