// Package geom holds the triangle mesh type shared by the connector renderer
// and the scene assembler, plus procedural primitives.
package geom

import (
	"cogentcore.org/core/math32"
)

// Mesh is an indexed triangle list in world coordinates with one base color.
type Mesh struct {
	Positions []math32.Vector3
	Indices   []uint32
	Color     [4]float32
}

// Clone returns a deep copy.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Positions: append([]math32.Vector3(nil), m.Positions...),
		Indices:   append([]uint32(nil), m.Indices...),
		Color:     m.Color,
	}
}

// Empty reports whether the mesh has no triangles.
func (m *Mesh) Empty() bool {
	return m == nil || len(m.Indices) < 3 || len(m.Positions) == 0
}

// Bounds returns the axis-aligned bounding box of all vertices.
func (m *Mesh) Bounds() math32.Box3 {
	b := math32.B3Empty()
	for _, p := range m.Positions {
		b.ExpandByPoint(p)
	}
	return b
}

// Translate moves every vertex by d.
func (m *Mesh) Translate(d math32.Vector3) *Mesh {
	for i := range m.Positions {
		m.Positions[i] = m.Positions[i].Add(d)
	}
	return m
}

// Scale multiplies every vertex by s about the origin.
func (m *Mesh) Scale(s float32) *Mesh {
	for i := range m.Positions {
		m.Positions[i] = m.Positions[i].MulScalar(s)
	}
	return m
}

// Rotate applies q about the origin.
func (m *Mesh) Rotate(q math32.Quat) *Mesh {
	for i := range m.Positions {
		m.Positions[i] = m.Positions[i].MulQuat(q)
	}
	return m
}

// RotateAxis rotates by angle radians about a unit axis through the origin.
func (m *Mesh) RotateAxis(axis math32.Vector3, angle float32) *Mesh {
	if angle == 0 {
		return m
	}
	return m.Rotate(math32.NewQuatAxisAngle(axis, angle))
}

// Append merges o into m, keeping m's color.
func (m *Mesh) Append(o *Mesh) *Mesh {
	if o == nil {
		return m
	}
	base := uint32(len(m.Positions))
	m.Positions = append(m.Positions, o.Positions...)
	for _, idx := range o.Indices {
		m.Indices = append(m.Indices, base+idx)
	}
	return m
}

// Normals computes area-weighted vertex normals.
func (m *Mesh) Normals() []math32.Vector3 {
	normals := make([]math32.Vector3, len(m.Positions))
	for i := 0; i+2 < len(m.Indices); i += 3 {
		a, b, c := m.Indices[i], m.Indices[i+1], m.Indices[i+2]
		n := m.Positions[b].Sub(m.Positions[a]).Cross(m.Positions[c].Sub(m.Positions[a]))
		normals[a] = normals[a].Add(n)
		normals[b] = normals[b].Add(n)
		normals[c] = normals[c].Add(n)
	}
	for i, n := range normals {
		if n.Length() > 0 {
			normals[i] = n.Normal()
		} else {
			normals[i] = math32.Vec3(0, 0, 1)
		}
	}
	return normals
}

// Fixed palette, linear RGBA.
var (
	ColorFloor       = [4]float32{0.78, 0.78, 0.78, 1}
	ColorPlaceholder = [4]float32{0.39, 0.39, 0.39, 0.78}
	ColorMachine     = [4]float32{0.7, 0.72, 0.75, 1}
	ColorPort        = [4]float32{1, 0.65, 0, 0.78}
	ColorJoint       = [4]float32{0.9, 0.9, 0.2, 1}
)
