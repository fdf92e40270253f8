package scene

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cogentcore.org/core/math32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/factory-twin/backend/internal/geom"
)

// ErrNoGeometry is returned when a model file holds no triangle primitives.
var ErrNoGeometry = errors.New("model has no triangle geometry")

// LoadMesh reads a glTF/GLB file and flattens every triangle primitive of
// the default scene into one mesh, baking node transforms into positions.
// A malformed document yields an error, never a panic.
func LoadMesh(path string) (mesh *geom.Mesh, err error) {
	defer func() {
		if r := recover(); r != nil {
			mesh, err = nil, fmt.Errorf("decode model %s: %v", path, r)
		}
	}()

	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}

	out := &geom.Mesh{Color: geom.ColorMachine}
	roots, err := sceneRoots(doc)
	if err != nil {
		return nil, err
	}
	for _, n := range roots {
		if err := flattenNode(doc, n, math32.Identity4(), out, 0); err != nil {
			return nil, err
		}
	}
	if out.Empty() {
		return nil, ErrNoGeometry
	}
	return out, nil
}

func sceneRoots(doc *gltf.Document) ([]int, error) {
	if len(doc.Scenes) == 0 {
		// No scene: treat every node as a root.
		roots := make([]int, len(doc.Nodes))
		for i := range roots {
			roots[i] = i
		}
		return roots, nil
	}
	idx := 0
	if doc.Scene != nil {
		idx = int(*doc.Scene)
	}
	if idx < 0 || idx >= len(doc.Scenes) {
		return nil, fmt.Errorf("default scene %d out of range", idx)
	}
	roots := make([]int, len(doc.Scenes[idx].Nodes))
	for i, n := range doc.Scenes[idx].Nodes {
		roots[i] = int(n)
	}
	return roots, nil
}

const maxNodeDepth = 64

func flattenNode(doc *gltf.Document, idx int, parent *math32.Matrix4, out *geom.Mesh, depth int) error {
	if depth > maxNodeDepth {
		return fmt.Errorf("node hierarchy deeper than %d", maxNodeDepth)
	}
	if idx < 0 || idx >= len(doc.Nodes) {
		return fmt.Errorf("node %d out of range", idx)
	}
	node := doc.Nodes[idx]

	local := localMatrix(node)
	world := new(math32.Matrix4)
	world.MulMatrices(parent, &local)

	if node.Mesh != nil {
		mi := int(*node.Mesh)
		if mi < 0 || mi >= len(doc.Meshes) {
			return fmt.Errorf("node %d: mesh %d out of range", idx, mi)
		}
		for pi, prim := range doc.Meshes[mi].Primitives {
			if err := appendPrimitive(doc, prim, world, out); err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
		}
	}
	for _, child := range node.Children {
		if err := flattenNode(doc, int(child), world, out, depth+1); err != nil {
			return err
		}
	}
	return nil
}

var identityMatrix = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// localMatrix prefers an explicit matrix and falls back to TRS.
func localMatrix(n *gltf.Node) math32.Matrix4 {
	var m math32.Matrix4
	if n.Matrix != [16]float64{} && n.Matrix != identityMatrix {
		for i, v := range n.Matrix {
			m[i] = float32(v)
		}
		return m
	}

	t := math32.Vec3(float32(n.Translation[0]), float32(n.Translation[1]), float32(n.Translation[2]))
	q := math32.Quat{X: float32(n.Rotation[0]), Y: float32(n.Rotation[1]), Z: float32(n.Rotation[2]), W: float32(n.Rotation[3])}
	if q == (math32.Quat{}) {
		q.W = 1
	}
	s := math32.Vec3(float32(n.Scale[0]), float32(n.Scale[1]), float32(n.Scale[2]))
	if s == (math32.Vector3{}) {
		s = math32.Vec3(1, 1, 1)
	}
	m.SetTransform(t, q, s)
	return m
}

func appendPrimitive(doc *gltf.Document, prim *gltf.Primitive, world *math32.Matrix4, out *geom.Mesh) error {
	if prim.Mode != gltf.PrimitiveTriangles {
		return nil
	}
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil
	}
	posAcc, err := accessor(doc, posIdx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	positions, err := modeler.ReadPosition(doc, posAcc, nil)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}

	var indices []uint32
	if prim.Indices != nil {
		idxAcc, err := accessor(doc, *prim.Indices)
		if err != nil {
			return fmt.Errorf("indices: %w", err)
		}
		indices, err = modeler.ReadIndices(doc, idxAcc, nil)
		if err != nil {
			return fmt.Errorf("read indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	base := uint32(len(out.Positions))
	for _, p := range positions {
		v := math32.Vec3(p[0], p[1], p[2]).MulMatrix4AsVector4(world, 1)
		out.Positions = append(out.Positions, v)
	}
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		if int(a) >= len(positions) || int(b) >= len(positions) || int(c) >= len(positions) {
			return fmt.Errorf("index out of range")
		}
		out.Indices = append(out.Indices, base+a, base+b, base+c)
	}
	return nil
}

func accessor(doc *gltf.Document, idx uint32) (*gltf.Accessor, error) {
	if int(idx) >= len(doc.Accessors) || doc.Accessors[idx] == nil {
		return nil, fmt.Errorf("accessor %d out of range", idx)
	}
	return doc.Accessors[idx], nil
}

// writeGLB serializes nodes as a binary glTF. Each node gets one glTF mesh
// with a primitive and material per part.
func writeGLB(path, name string, nodes []*Node) error {
	doc := gltf.NewDocument()
	doc.Scenes = []*gltf.Scene{{Name: name}}
	doc.Scene = gltf.Index(0)

	for _, n := range nodes {
		mesh := &gltf.Mesh{Name: n.Name}
		for _, part := range n.Parts {
			if part.Empty() {
				continue
			}
			mesh.Primitives = append(mesh.Primitives, writePart(doc, part))
		}
		if len(mesh.Primitives) == 0 {
			continue
		}
		doc.Meshes = append(doc.Meshes, mesh)
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name: n.Name,
			Mesh: gltf.Index(uint32(len(doc.Meshes) - 1)),
		})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)-1))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create scene directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := gltf.SaveBinary(doc, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write glb: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize glb: %w", err)
	}
	return nil
}

func writePart(doc *gltf.Document, m *geom.Mesh) *gltf.Primitive {
	positions := make([][3]float32, len(m.Positions))
	for i, p := range m.Positions {
		positions[i] = [3]float32{p.X, p.Y, p.Z}
	}
	normals := make([][3]float32, len(m.Positions))
	for i, n := range m.Normals() {
		normals[i] = [3]float32{n.X, n.Y, n.Z}
	}

	doc.Materials = append(doc.Materials, &gltf.Material{
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{
				float64(m.Color[0]), float64(m.Color[1]),
				float64(m.Color[2]), float64(m.Color[3]),
			},
		},
		AlphaMode: alphaMode(m.Color[3]),
	})

	return &gltf.Primitive{
		Mode:    gltf.PrimitiveTriangles,
		Indices: gltf.Index(modeler.WriteIndices(doc, m.Indices)),
		Attributes: gltf.Attribute{
			"POSITION": modeler.WritePosition(doc, positions),
			"NORMAL":   modeler.WriteNormal(doc, normals),
		},
		Material: gltf.Index(uint32(len(doc.Materials) - 1)),
	}
}

func alphaMode(a float32) gltf.AlphaMode {
	if a < 1 {
		return gltf.AlphaBlend
	}
	return gltf.AlphaOpaque
}
