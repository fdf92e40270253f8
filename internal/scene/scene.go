// Package scene assembles a factory layout into a single 3D scene: floor,
// machine meshes or placeholders, port markers and connector geometry, and
// exports it as GLB.
package scene

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"cogentcore.org/core/math32"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/geom"
)

// Node is one named scene object made of one or more colored parts.
type Node struct {
	Name  string
	Parts []*geom.Mesh
	order int
}

// Bounds spans all parts.
func (n *Node) Bounds() math32.Box3 {
	b := math32.B3Empty()
	for _, p := range n.Parts {
		for _, v := range p.Positions {
			b.ExpandByPoint(v)
		}
	}
	return b
}

// Scene collects nodes. Add is safe for concurrent use.
type Scene struct {
	Name string

	mu    sync.Mutex
	nodes map[string]*Node
	seq   int
}

func New(name string) *Scene {
	return &Scene{Name: name, nodes: make(map[string]*Node)}
}

// Add inserts a node and returns the name it was stored under. A taken
// name gets a numeric suffix (_2, _3, ...).
func (s *Scene) Add(name string, parts ...*geom.Mesh) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	final := name
	for i := 2; ; i++ {
		if _, taken := s.nodes[final]; !taken {
			break
		}
		final = name + "_" + strconv.Itoa(i)
	}
	s.nodes[final] = &Node{Name: final, Parts: parts, order: s.seq}
	s.seq++
	return final
}

// Node looks up a node by name.
func (s *Scene) Node(name string) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[name]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (s *Scene) Nodes() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Export writes the scene as GLB to path via a temp file and rename.
func (s *Scene) Export(ctx context.Context, path string) error {
	nodes := s.Nodes()
	if err := writeGLB(path, s.Name, nodes); err != nil {
		return fmt.Errorf("export scene %s: %w", s.Name, err)
	}
	ctxlog.FromContext(ctx).Info("scene exported", "path", path, "nodes", len(nodes))
	return nil
}
