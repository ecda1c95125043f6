package content

import (
	"fmt"
	"math"

	"github.com/qmuntal/gltf"

	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/pkg/core"
)

type builder struct {
	doc      *gltf.Document
	graph    engine.SceneGraph
	visiting map[int]bool
}

func (b *builder) node(idx int, parent engine.NodeID) error {
	if idx < 0 || idx >= len(b.doc.Nodes) || b.doc.Nodes[idx] == nil {
		return fmt.Errorf("node index %d out of range", idx)
	}
	if b.visiting[idx] {
		return fmt.Errorf("node %d is its own ancestor", idx)
	}
	b.visiting[idx] = true
	defer delete(b.visiting, idx)

	n := b.doc.Nodes[idx]
	name := n.Name
	if name == "" {
		name = fmt.Sprintf("Node_%d", idx)
	}
	id, err := b.graph.CreateNode(name, parent)
	if err != nil {
		return err
	}
	if err := b.graph.SetLocalTransform(id, nodeTransform(n)); err != nil {
		return err
	}

	if n.Mesh != nil {
		if err := b.mesh(id, *n.Mesh); err != nil {
			return fmt.Errorf("node %d: %w", idx, err)
		}
	}
	for _, c := range n.Children {
		if err := b.node(c, id); err != nil {
			return err
		}
	}
	return nil
}

// mesh attaches a renderer with one material slot per primitive. Slots whose
// material index is absent or dangling are left nil for the repair pass.
func (b *builder) mesh(id engine.NodeID, meshIdx int) error {
	if meshIdx < 0 || meshIdx >= len(b.doc.Meshes) || b.doc.Meshes[meshIdx] == nil {
		return fmt.Errorf("mesh index %d out of range", meshIdx)
	}
	m := b.doc.Meshes[meshIdx]
	if len(m.Primitives) == 0 {
		return fmt.Errorf("mesh %d has no primitives", meshIdx)
	}
	slots := make([]*engine.Material, len(m.Primitives))
	for i, p := range m.Primitives {
		if p == nil || p.Material == nil {
			continue
		}
		slots[i] = b.material(*p.Material)
	}
	name := m.Name
	if name == "" {
		name = fmt.Sprintf("Mesh_%d", meshIdx)
	}
	return b.graph.AttachRenderer(id, name, slots)
}

func (b *builder) material(idx int) *engine.Material {
	if idx < 0 || idx >= len(b.doc.Materials) || b.doc.Materials[idx] == nil {
		return nil
	}
	src := b.doc.Materials[idx]
	m := &engine.Material{
		Name:      src.Name,
		Shader:    ShaderPBR,
		BaseColor: [4]float64{1, 1, 1, 1},
		Metallic:  1,
		Roughness: 1,
	}
	if m.Name == "" {
		m.Name = fmt.Sprintf("Material_%d", idx)
	}
	if _, ok := src.Extensions["KHR_materials_unlit"]; ok {
		m.Shader = ShaderUnlit
	}
	if pbr := src.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			m.BaseColor = *pbr.BaseColorFactor
		}
		if pbr.MetallicFactor != nil {
			m.Metallic = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			m.Roughness = *pbr.RoughnessFactor
		}
	}
	return m
}

var identityMatrix = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// nodeTransform converts a node's TRS or matrix into a local transform.
func nodeTransform(n *gltf.Node) core.Transform {
	if n.Matrix != [16]float64{} && n.Matrix != identityMatrix {
		return decompose(n.Matrix)
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	return core.Transform{
		Position:      core.Vec3{X: t[0], Y: t[1], Z: t[2]},
		RotationEuler: core.QuatToEuler(core.Quat{X: r[0], Y: r[1], Z: r[2], W: r[3]}),
		Scale:         core.Vec3{X: s[0], Y: s[1], Z: s[2]},
	}
}

// decompose splits a column-major affine matrix into translation, rotation and
// scale. Shear is discarded.
func decompose(m [16]float64) core.Transform {
	col := func(i int) core.Vec3 { return core.Vec3{X: m[i*4], Y: m[i*4+1], Z: m[i*4+2]} }
	sx, sy, sz := col(0).Magnitude(), col(1).Magnitude(), col(2).Magnitude()
	out := core.Transform{
		Position: core.Vec3{X: m[12], Y: m[13], Z: m[14]},
		Scale:    core.Vec3{X: sx, Y: sy, Z: sz},
	}
	if sx == 0 || sy == 0 || sz == 0 {
		return out
	}
	// rotation matrix, row-major r[row][col]
	var r [3][3]float64
	for c, s := range []float64{sx, sy, sz} {
		v := col(c)
		r[0][c], r[1][c], r[2][c] = v.X/s, v.Y/s, v.Z/s
	}
	out.RotationEuler = core.QuatToEuler(matrixToQuat(r))
	return out
}

func matrixToQuat(r [3][3]float64) core.Quat {
	trace := r[0][0] + r[1][1] + r[2][2]
	var q core.Quat
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = core.Quat{W: s / 4, X: (r[2][1] - r[1][2]) / s, Y: (r[0][2] - r[2][0]) / s, Z: (r[1][0] - r[0][1]) / s}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		q = core.Quat{W: (r[2][1] - r[1][2]) / s, X: s / 4, Y: (r[0][1] + r[1][0]) / s, Z: (r[0][2] + r[2][0]) / s}
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		q = core.Quat{W: (r[0][2] - r[2][0]) / s, X: (r[0][1] + r[1][0]) / s, Y: s / 4, Z: (r[1][2] + r[2][1]) / s}
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		q = core.Quat{W: (r[1][0] - r[0][1]) / s, X: (r[0][2] + r[2][0]) / s, Y: (r[1][2] + r[2][1]) / s, Z: s / 4}
	}
	return q
}
