// Package connector builds procedural pipe and conveyor geometry along a
// connection's waypoints: straight segments, joint markers at right-angle
// turns and vertical risers down to the floor at both ends.
package connector

import (
	"cogentcore.org/core/math32"

	"github.com/factory-twin/backend/internal/geom"
	"github.com/factory-twin/backend/internal/models"
)

// alignEpsilon is the cross-product magnitude below which a direction is
// treated as parallel to the canonical axis.
const alignEpsilon = 1e-6

// CanonicalAxis is the axis primitives are built along.
var CanonicalAxis = math32.Vec3(0, 0, 1)

// Options tunes connector rendering.
type Options struct {
	JointMinDeg      float32 // interior angle window for joint markers
	JointMaxDeg      float32
	MinSegmentLength float32 // shorter segments are skipped
	Segments         int     // cylinder tessellation
}

// DefaultOptions uses an 80°–100° joint window.
func DefaultOptions() Options {
	return Options{
		JointMinDeg:      80,
		JointMaxDeg:      100,
		MinSegmentLength: 1,
		Segments:         16,
	}
}

// Segment is one straight cylinder: it spans Start to End and is placed by
// rotating the canonical axis onto its direction and translating to Center.
type Segment struct {
	Start    math32.Vector3
	End      math32.Vector3
	Center   math32.Vector3
	Length   float32
	Rotation math32.Quat
	Riser    bool
}

// Joint marks a right-angle turn at an interior waypoint.
type Joint struct {
	Position      math32.Vector3
	InteriorAngle float32 // degrees
	Waypoint      int
}

// Geometry is everything rendered for one connection.
type Geometry struct {
	ConnectionID string
	Style        models.ConnectionStyle
	Segments     []Segment
	Joints       []Joint
}

// Render computes connector geometry for conn. Waypoints are lifted to the
// class elevation; risers tie the first and last waypoint to z = 0.
func Render(conn models.Connection, opts Options) Geometry {
	style := conn.Class.Style()
	g := Geometry{ConnectionID: conn.ID, Style: style}
	if len(conn.Waypoints) < 2 {
		return g
	}

	elev := float32(style.Elevation)
	pts := make([]math32.Vector3, len(conn.Waypoints))
	for i, w := range conn.Waypoints {
		pts[i] = math32.Vec3(float32(w.X), float32(w.Y), float32(w.Z)+elev)
	}

	first, last := pts[0], pts[len(pts)-1]
	if s, ok := makeSegment(math32.Vec3(first.X, first.Y, 0), first, opts); ok {
		s.Riser = true
		g.Segments = append(g.Segments, s)
	}
	for i := 0; i+1 < len(pts); i++ {
		if s, ok := makeSegment(pts[i], pts[i+1], opts); ok {
			g.Segments = append(g.Segments, s)
		}
	}
	if s, ok := makeSegment(last, math32.Vec3(last.X, last.Y, 0), opts); ok {
		s.Riser = true
		g.Segments = append(g.Segments, s)
	}

	// Repeated waypoints collapse into one corner measured against the
	// nearest distinct neighbours.
	for i := 1; i+1 < len(pts); i++ {
		if coincident(pts[i-1], pts[i], opts) {
			continue
		}
		next := i + 1
		for next < len(pts) && coincident(pts[i], pts[next], opts) {
			next++
		}
		if next == len(pts) {
			break
		}
		angle, ok := InteriorAngle(pts[i-1], pts[i], pts[next])
		if !ok {
			continue
		}
		if angle >= opts.JointMinDeg && angle <= opts.JointMaxDeg {
			g.Joints = append(g.Joints, Joint{Position: pts[i], InteriorAngle: angle, Waypoint: i})
		}
	}
	return g
}

// Straight returns only the non-riser segments.
func (g Geometry) Straight() []Segment {
	var out []Segment
	for _, s := range g.Segments {
		if !s.Riser {
			out = append(out, s)
		}
	}
	return out
}

func coincident(a, b math32.Vector3, opts Options) bool {
	eps := opts.MinSegmentLength
	if eps <= 0 {
		eps = 1e-6
	}
	return b.Sub(a).Length() < eps
}

func makeSegment(a, b math32.Vector3, opts Options) (Segment, bool) {
	d := b.Sub(a)
	length := d.Length()
	if length < opts.MinSegmentLength || length == 0 {
		return Segment{}, false
	}
	return Segment{
		Start:    a,
		End:      b,
		Center:   a.Add(b).MulScalar(0.5),
		Length:   length,
		Rotation: AlignRotation(d.MulScalar(1 / length)),
	}, true
}

// AlignRotation returns the minimal rotation taking CanonicalAxis onto the
// unit direction dir. Parallel and anti-parallel directions are handled
// explicitly since their cross product gives no usable axis.
func AlignRotation(dir math32.Vector3) math32.Quat {
	cross := CanonicalAxis.Cross(dir)
	dot := math32.Clamp(CanonicalAxis.Dot(dir), -1, 1)
	if cross.Length() < alignEpsilon {
		if dot > 0 {
			return math32.NewQuatAxisAngle(math32.Vec3(1, 0, 0), 0)
		}
		return math32.NewQuatAxisAngle(math32.Vec3(1, 0, 0), math32.Pi)
	}
	return math32.NewQuatAxisAngle(cross.Normal(), math32.Acos(dot))
}

// InteriorAngle is 180° minus the angle between the incoming and outgoing
// directions at b, measured in the horizontal plane. ok is false when either
// direction has no horizontal extent.
func InteriorAngle(a, b, c math32.Vector3) (float32, bool) {
	in := math32.Vec3(b.X-a.X, b.Y-a.Y, 0)
	out := math32.Vec3(c.X-b.X, c.Y-b.Y, 0)
	if in.Length() < alignEpsilon || out.Length() < alignEpsilon {
		return 0, false
	}
	cos := math32.Clamp(in.Normal().Dot(out.Normal()), -1, 1)
	between := math32.RadToDeg(math32.Acos(cos))
	return 180 - between, true
}

// Meshes turns the geometry into drawable parts: one mesh holding a
// cylinder per segment, and one holding a sphere per joint when any exist.
func (g Geometry) Meshes(opts Options) []*geom.Mesh {
	radius := float32(g.Style.Radius)
	color := [4]float32{
		float32(g.Style.Color[0]), float32(g.Style.Color[1]),
		float32(g.Style.Color[2]), float32(g.Style.Color[3]),
	}

	body := &geom.Mesh{Color: color}
	for _, s := range g.Segments {
		cyl := geom.Cylinder(radius, s.Length, opts.Segments, color)
		cyl.Rotate(s.Rotation).Translate(s.Center)
		body.Append(cyl)
	}
	parts := []*geom.Mesh{body}

	if len(g.Joints) > 0 {
		joints := &geom.Mesh{Color: geom.ColorJoint}
		for _, j := range g.Joints {
			joints.Append(geom.Sphere(radius*1.6, 8, opts.Segments, geom.ColorJoint).Translate(j.Position))
		}
		parts = append(parts, joints)
	}
	return parts
}
