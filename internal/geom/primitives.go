package geom

import "cogentcore.org/core/math32"

// Box returns a cuboid of the given size centred on the origin. Each face
// has its own four vertices so shading stays flat.
func Box(sx, sy, sz float32, color [4]float32) *Mesh {
	h := math32.Vec3(sx/2, sy/2, sz/2)
	c := [8]math32.Vector3{
		math32.Vec3(-h.X, -h.Y, -h.Z), math32.Vec3(h.X, -h.Y, -h.Z),
		math32.Vec3(h.X, h.Y, -h.Z), math32.Vec3(-h.X, h.Y, -h.Z),
		math32.Vec3(-h.X, -h.Y, h.Z), math32.Vec3(h.X, -h.Y, h.Z),
		math32.Vec3(h.X, h.Y, h.Z), math32.Vec3(-h.X, h.Y, h.Z),
	}
	// counter-clockwise seen from outside
	faces := [6][4]int{
		{0, 3, 2, 1}, // -z
		{4, 5, 6, 7}, // +z
		{0, 1, 5, 4}, // -y
		{2, 3, 7, 6}, // +y
		{1, 2, 6, 5}, // +x
		{3, 0, 4, 7}, // -x
	}

	m := &Mesh{Color: color}
	for _, f := range faces {
		base := uint32(len(m.Positions))
		for _, vi := range f {
			m.Positions = append(m.Positions, c[vi])
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}

// Cylinder returns a capped cylinder along +Z centred on the origin.
func Cylinder(radius, height float32, segments int, color [4]float32) *Mesh {
	if segments < 3 {
		segments = 3
	}
	hz := height / 2
	m := &Mesh{Color: color}

	ring := make([]math32.Vector3, segments)
	for i := range ring {
		a := 2 * math32.Pi * float32(i) / float32(segments)
		ring[i] = math32.Vec3(radius*math32.Cos(a), radius*math32.Sin(a), 0)
	}

	// side
	for i := 0; i < segments; i++ {
		j := (i + 1) % segments
		base := uint32(len(m.Positions))
		m.Positions = append(m.Positions,
			ring[i].Add(math32.Vec3(0, 0, -hz)),
			ring[j].Add(math32.Vec3(0, 0, -hz)),
			ring[j].Add(math32.Vec3(0, 0, hz)),
			ring[i].Add(math32.Vec3(0, 0, hz)),
		)
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}

	// caps
	for _, z := range []float32{-hz, hz} {
		center := uint32(len(m.Positions))
		m.Positions = append(m.Positions, math32.Vec3(0, 0, z))
		for i := 0; i < segments; i++ {
			m.Positions = append(m.Positions, ring[i].Add(math32.Vec3(0, 0, z)))
		}
		for i := 0; i < segments; i++ {
			a := center + 1 + uint32(i)
			b := center + 1 + uint32((i+1)%segments)
			if z > 0 {
				m.Indices = append(m.Indices, center, a, b)
			} else {
				m.Indices = append(m.Indices, center, b, a)
			}
		}
	}
	return m
}

// Sphere returns a UV sphere centred on the origin.
func Sphere(radius float32, rings, segments int, color [4]float32) *Mesh {
	if rings < 2 {
		rings = 2
	}
	if segments < 3 {
		segments = 3
	}
	m := &Mesh{Color: color}
	for r := 0; r <= rings; r++ {
		phi := math32.Pi * float32(r) / float32(rings)
		sp, cp := math32.Sin(phi), math32.Cos(phi)
		for s := 0; s <= segments; s++ {
			theta := 2 * math32.Pi * float32(s) / float32(segments)
			m.Positions = append(m.Positions, math32.Vec3(
				radius*sp*math32.Cos(theta),
				radius*sp*math32.Sin(theta),
				radius*cp,
			))
		}
	}
	stride := uint32(segments + 1)
	for r := 0; r < rings; r++ {
		for s := 0; s < segments; s++ {
			a := uint32(r)*stride + uint32(s)
			b := a + stride
			m.Indices = append(m.Indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return m
}
