// Package engine declares the host runtime the orchestrator drives: the scene
// graph, the shader library and the image tracker. Hosts provide real
// implementations; package headless provides in-memory ones.
package engine

import (
	"errors"
	"image"

	"github.com/rookie-ar/markerscene/pkg/core"
)

// NodeID identifies a scene graph node. The zero value is "no node" and, used
// as a parent, means the scene root.
type NodeID uint64

const NoNode NodeID = 0

// ErrNodeNotFound is returned for unknown or destroyed nodes.
var ErrNodeNotFound = errors.New("node not found")

// Material is one renderer material slot. A nil *Material in a slot is a
// missing material.
type Material struct {
	Name      string
	Shader    string
	BaseColor [4]float64
	Metallic  float64
	Roughness float64
}

// Renderer is a renderable leaf and its material slots.
type Renderer struct {
	Node      NodeID
	Mesh      string
	Materials []*Material
}

// SceneGraph is the host's node hierarchy.
type SceneGraph interface {
	CreateNode(name string, parent NodeID) (NodeID, error)
	// DestroyNode removes the node and its whole subtree.
	DestroyNode(id NodeID) error
	// SetParent reparents id. With keepWorld false the local transform is kept.
	SetParent(id, parent NodeID, keepWorld bool) error
	SetLocalTransform(id NodeID, t core.Transform) error
	LocalTransform(id NodeID) (core.Transform, error)
	SetWorldPose(id NodeID, p core.Pose) error
	WorldPose(id NodeID) (core.Pose, error)
	FindNode(name string) (NodeID, bool)
	Name(id NodeID) string
	SetName(id NodeID, name string) error
	Parent(id NodeID) NodeID
	Children(id NodeID) []NodeID
	// DefaultParent is where anchors go when no world root is configured.
	DefaultParent() NodeID

	AttachRenderer(id NodeID, mesh string, slots []*Material) error
	// Renderers returns every renderer in the subtree rooted at root.
	Renderers(root NodeID) []Renderer
	SetMaterial(id NodeID, slot int, m *Material) error
}

// ShaderLibrary answers whether a shading program can be used at runtime.
type ShaderLibrary interface {
	Available(shader string) bool
}

// ReferenceLibrary is a set of reference images known to the tracker.
type ReferenceLibrary interface {
	Count() int
}

// MutableLibrary is a reference library that accepts images at runtime.
type MutableLibrary interface {
	ReferenceLibrary
	// ScheduleAddImage queues validation and insertion of img under name.
	ScheduleAddImage(img image.Image, name string, widthM float64) (Job, error)
}

// Job is an asynchronous tracker job.
type Job interface {
	// Done is closed when the job finishes.
	Done() <-chan struct{}
	// Complete finalizes the job and reports its result. Call after Done.
	Complete() error
}

// Subscription detaches a tracking event handler.
type Subscription interface {
	Unsubscribe()
}

// ImageTracker is the visual marker tracking subsystem.
type ImageTracker interface {
	// ReferenceLibrary returns the installed library, or nil.
	ReferenceLibrary() ReferenceLibrary
	CreateRuntimeLibrary() (MutableLibrary, error)
	SetReferenceLibrary(lib ReferenceLibrary) error
	// Subscribe registers fn for change notifications. fn may be called from
	// any goroutine and may block to apply backpressure, so implementations
	// call it without holding locks that Subscribe or Unsubscribe need.
	Subscribe(fn func(core.TrackedImagesChanged)) Subscription
}

// Engine bundles the collaborators a runtime needs.
type Engine struct {
	Graph   SceneGraph
	Shaders ShaderLibrary
	Tracker ImageTracker
}
