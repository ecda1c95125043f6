// Package headless implements the engine interfaces in memory. It backs the
// command-line harness and the tests.
package headless

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// TrackablesName is the node anchors are parented to by default.
const TrackablesName = "Trackables"

type node struct {
	id       engine.NodeID
	name     string
	parent   engine.NodeID
	children []engine.NodeID
	local    core.Transform
	world    core.Pose
	renderer *engine.Renderer
}

// Graph is an in-memory scene graph. World poses are stored, not composed:
// SetWorldPose is only meaningful for anchors, which is all the runtime needs.
type Graph struct {
	mu         sync.RWMutex
	nextID     engine.NodeID
	nodes      map[engine.NodeID]*node
	roots      []engine.NodeID
	trackables engine.NodeID
}

// NewGraph creates a graph holding only the default Trackables node.
func NewGraph() *Graph {
	g := &Graph{nodes: make(map[engine.NodeID]*node)}
	g.trackables, _ = g.CreateNode(TrackablesName, engine.NoNode)
	return g
}

func (g *Graph) CreateNode(name string, parent engine.NodeID) (engine.NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if parent != engine.NoNode {
		if _, ok := g.nodes[parent]; !ok {
			return engine.NoNode, fmt.Errorf("parent %d: %w", parent, engine.ErrNodeNotFound)
		}
	}
	g.nextID++
	n := &node{
		id:     g.nextID,
		name:   name,
		parent: parent,
		local:  core.IdentityTransform,
		world:  core.Pose{Rotation: core.IdentityQuat},
	}
	g.nodes[n.id] = n
	g.link(n.id, parent)
	return n.id, nil
}

func (g *Graph) link(id, parent engine.NodeID) {
	if parent == engine.NoNode {
		g.roots = append(g.roots, id)
		return
	}
	p := g.nodes[parent]
	p.children = append(p.children, id)
}

func (g *Graph) unlink(id, parent engine.NodeID) {
	list := &g.roots
	if parent != engine.NoNode {
		list = &g.nodes[parent].children
	}
	for i, c := range *list {
		if c == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

func (g *Graph) DestroyNode(id engine.NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("destroy %d: %w", id, engine.ErrNodeNotFound)
	}
	g.unlink(id, n.parent)
	g.destroy(n)
	return nil
}

func (g *Graph) destroy(n *node) {
	for _, c := range n.children {
		g.destroy(g.nodes[c])
	}
	delete(g.nodes, n.id)
}

func (g *Graph) SetParent(id, parent engine.NodeID, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("reparent %d: %w", id, engine.ErrNodeNotFound)
	}
	if parent != engine.NoNode {
		if _, ok := g.nodes[parent]; !ok {
			return fmt.Errorf("reparent to %d: %w", parent, engine.ErrNodeNotFound)
		}
		for p := parent; p != engine.NoNode; p = g.nodes[p].parent {
			if p == id {
				return fmt.Errorf("reparent %d under its own descendant %d", id, parent)
			}
		}
	}
	g.unlink(id, n.parent)
	n.parent = parent
	g.link(id, parent)
	return nil
}

func (g *Graph) get(id engine.NodeID) (*node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, engine.ErrNodeNotFound)
	}
	return n, nil
}

func (g *Graph) SetLocalTransform(id engine.NodeID, t core.Transform) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	n.local = t
	return nil
}

func (g *Graph) LocalTransform(id engine.NodeID) (core.Transform, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.get(id)
	if err != nil {
		return core.Transform{}, err
	}
	return n.local, nil
}

func (g *Graph) SetWorldPose(id engine.NodeID, p core.Pose) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	n.world = p
	return nil
}

func (g *Graph) WorldPose(id engine.NodeID) (core.Pose, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.get(id)
	if err != nil {
		return core.Pose{}, err
	}
	return n.world, nil
}

// FindNode returns the first node with the given name, lowest id first.
func (g *Graph) FindNode(name string) (engine.NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	best := engine.NoNode
	for id, n := range g.nodes {
		if n.name == name && (best == engine.NoNode || id < best) {
			best = id
		}
	}
	return best, best != engine.NoNode
}

func (g *Graph) Name(id engine.NodeID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return n.name
	}
	return ""
}

func (g *Graph) SetName(id engine.NodeID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	n.name = name
	return nil
}

func (g *Graph) Parent(id engine.NodeID) engine.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return n.parent
	}
	return engine.NoNode
}

func (g *Graph) Children(id engine.NodeID) []engine.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id == engine.NoNode {
		return append([]engine.NodeID(nil), g.roots...)
	}
	if n, ok := g.nodes[id]; ok {
		return append([]engine.NodeID(nil), n.children...)
	}
	return nil
}

func (g *Graph) DefaultParent() engine.NodeID {
	return g.trackables
}

// Exists reports whether id is a live node.
func (g *Graph) Exists(id engine.NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) AttachRenderer(id engine.NodeID, mesh string, slots []*engine.Material) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	n.renderer = &engine.Renderer{
		Node:      id,
		Mesh:      mesh,
		Materials: append([]*engine.Material(nil), slots...),
	}
	return nil
}

func (g *Graph) Renderers(root engine.NodeID) []engine.Renderer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []engine.Renderer
	var walk func(id engine.NodeID)
	walk = func(id engine.NodeID) {
		n, ok := g.nodes[id]
		if !ok {
			return
		}
		if n.renderer != nil {
			r := *n.renderer
			r.Materials = append([]*engine.Material(nil), n.renderer.Materials...)
			out = append(out, r)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)
	return out
}

func (g *Graph) SetMaterial(id engine.NodeID, slot int, m *engine.Material) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	if n.renderer == nil {
		return fmt.Errorf("node %d has no renderer", id)
	}
	if slot < 0 || slot >= len(n.renderer.Materials) {
		return fmt.Errorf("node %d: material slot %d out of range", id, slot)
	}
	n.renderer.Materials[slot] = m
	return nil
}

// Dump writes an indented view of the hierarchy, one node per line.
func (g *Graph) Dump(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var walk func(id engine.NodeID, depth int) error
	walk = func(id engine.NodeID, depth int) error {
		n := g.nodes[id]
		line := fmt.Sprintf("%s%s #%d pos=(%.3f,%.3f,%.3f) scale=(%.3f,%.3f,%.3f)",
			strings.Repeat("  ", depth), n.name, n.id,
			n.local.Position.X, n.local.Position.Y, n.local.Position.Z,
			n.local.Scale.X, n.local.Scale.Y, n.local.Scale.Z)
		if n.renderer != nil {
			names := make([]string, len(n.renderer.Materials))
			for i, m := range n.renderer.Materials {
				if m == nil {
					names[i] = "<missing>"
				} else {
					names[i] = m.Name
				}
			}
			line += fmt.Sprintf(" mesh=%s materials=[%s]", n.renderer.Mesh, strings.Join(names, ","))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for _, c := range n.children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	roots := append([]engine.NodeID(nil), g.roots...)
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	for _, r := range roots {
		if err := walk(r, 0); err != nil {
			return err
		}
	}
	return nil
}

var _ engine.SceneGraph = (*Graph)(nil)
