// Package pipeline turns a handed-over layout into a finished 3D scene:
// DECODE the drafting file, RESOLVE a mesh for every machine, ASSEMBLE and
// export the scene. Phases run strictly in order and nothing past DECODE
// starts unless the handover contract is present.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/factory-twin/backend/internal/models"
)

// ErrHandoverMissing means the drafting file or the semantic manifest is
// absent from the project directory.
var ErrHandoverMissing = errors.New("handover contract missing")

// ErrInvalidProject is returned for names that cannot form a directory.
var ErrInvalidProject = errors.New("invalid project name")

const (
	manifestFile = "layout_contract.json"
	sceneSuffix  = "_complete.glb"
)

// Project locates one layout's files under the data directory:
//
//	<data>/<name>/dxf/<name>.dxf
//	<data>/<name>/layout_contract.json
//	<data>/<name>/scene/<name>_complete.glb
type Project struct {
	Name string
	Root string
}

// NewProject validates name and returns its paths.
func NewProject(dataDir, name string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || models.Slug(name) != name {
		return Project{}, fmt.Errorf("%w: %q", ErrInvalidProject, name)
	}
	return Project{Name: name, Root: filepath.Join(dataDir, name)}, nil
}

func (p Project) DXFPath() string {
	return filepath.Join(p.Root, "dxf", p.Name+".dxf")
}

func (p Project) ManifestPath() string {
	return filepath.Join(p.Root, manifestFile)
}

func (p Project) ScenePath() string {
	return filepath.Join(p.Root, "scene", p.Name+sceneSuffix)
}

// CheckHandover verifies both contract files exist. The error wraps
// ErrHandoverMissing and names every missing path.
func (p Project) CheckHandover() error {
	var missing []string
	for _, path := range []string{p.DXFPath(), p.ManifestPath()} {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrHandoverMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ResolvePath makes a manifest-relative reference absolute.
func (p Project) ResolvePath(ref string) string {
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(p.Root, ref)
}
