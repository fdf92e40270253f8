package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/factory-twin/backend/internal/models"
)

// MeshExt is the extension of every cached mesh.
const MeshExt = ".glb"

// MeshCache stores generated meshes keyed by entity slug. Entries never
// expire; only Clear and ClearAll remove them.
type MeshCache struct {
	dir string
}

// NewMeshCache creates the cache root if needed.
func NewMeshCache(dir string) (*MeshCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &MeshCache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *MeshCache) Dir() string {
	return c.dir
}

// Path is where the mesh for slug lives: <root>/<slug>/<slug>.glb.
func (c *MeshCache) Path(slug string) string {
	slug = models.Slug(slug)
	return filepath.Join(c.dir, slug, slug+MeshExt)
}

// Lookup reports the cached mesh path for slug if a complete entry exists.
func (c *MeshCache) Lookup(slug string) (string, bool) {
	path := c.Path(slug)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return "", false
	}
	return path, true
}

// Write streams r into the cache entry for slug. Data goes to a temporary
// file in the entry's directory and is renamed into place only after the
// copy completes, so readers never observe a partial mesh.
func (c *MeshCache) Write(slug string, r io.Reader) (string, int64, error) {
	path := c.Path(slug)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("creating cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("writing mesh: %w", err)
	}
	if size == 0 {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, errors.New("writing mesh: empty body")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("moving mesh into place: %w", err)
	}
	return path, size, nil
}

// Clear removes the entry for slug. Clearing a missing entry is not an error.
func (c *MeshCache) Clear(slug string) error {
	if err := os.RemoveAll(filepath.Dir(c.Path(slug))); err != nil {
		return fmt.Errorf("clearing cache entry: %w", err)
	}
	return nil
}

// ClearAll removes every entry and returns how many were removed.
func (c *MeshCache) ClearAll() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return n, fmt.Errorf("clearing %s: %w", e.Name(), err)
		}
		n++
	}
	return n, nil
}

// Slugs lists the slugs that currently have a complete mesh.
func (c *MeshCache) Slugs() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := c.Lookup(e.Name()); ok {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
