// Package models contains domain types for the factory scene builder.
package models

import "math"

// Vector3 is a point or direction in layout space (millimetres, Z up).
type Vector3 struct {
	X float64 `json:"x" yaml:"x" msgpack:"x"`
	Y float64 `json:"y" yaml:"y" msgpack:"y"`
	Z float64 `json:"z" yaml:"z" msgpack:"z"`
}

// V3 is shorthand for constructing a Vector3.
func V3(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Length returns the Euclidean norm.
func (v Vector3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance returns the distance between two points.
func (v Vector3) Distance(o Vector3) float64 {
	return v.Sub(o).Length()
}

// Rect is an oriented rectangle in the XY plane. Length runs along the local
// X axis, Width along local Y, and Rotation is in degrees counter-clockwise.
type Rect struct {
	Center   Vector3 `json:"center"`
	Length   float64 `json:"length"`
	Width    float64 `json:"width"`
	Rotation float64 `json:"rotation"`
}

// Corners returns the four corners counter-clockwise, starting at local
// (-length/2, -width/2).
func (r Rect) Corners() [4]Vector3 {
	hl, hw := r.Length/2, r.Width/2
	local := [4][2]float64{{-hl, -hw}, {hl, -hw}, {hl, hw}, {-hl, hw}}
	rad := r.Rotation * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	var out [4]Vector3
	for i, p := range local {
		out[i] = Vector3{
			X: r.Center.X + p[0]*cos - p[1]*sin,
			Y: r.Center.Y + p[0]*sin + p[1]*cos,
			Z: r.Center.Z,
		}
	}
	return out
}
