// Package storage holds the on-disk stores: reference images keyed by
// entity slug and the generated mesh cache.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/factory-twin/backend/internal/models"
)

// ImageExts are the reference image extensions searched, in order.
var ImageExts = []string{".png", ".jpg", ".jpeg", ".webp"}

// ErrUnsupportedImage is returned for extensions outside ImageExts.
var ErrUnsupportedImage = errors.New("unsupported image type")

// ImageStore keeps reference images named <slug><ext> in one directory.
type ImageStore struct {
	mu  sync.RWMutex
	dir string
}

// NewImageStore creates a new ImageStore.
func NewImageStore(dir string) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &ImageStore{dir: dir}, nil
}

func normalizeExt(ext string) (string, error) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, e := range ImageExts {
		if e == ext {
			return ext, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedImage, ext)
}

// Save stores an image for the entity named name, replacing any image the
// slug already had.
func (s *ImageStore) Save(name, ext string, r io.Reader) (*models.FileInfo, error) {
	ext, err := normalizeExt(ext)
	if err != nil {
		return nil, err
	}
	slug := models.Slug(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	size, err := io.Copy(tmp, r)
	tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing file: %w", err)
	}

	s.removeLocked(slug)
	path := filepath.Join(s.dir, slug+ext)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("moving file into place: %w", err)
	}

	return &models.FileInfo{
		ID:         slug,
		Name:       name,
		Path:       path,
		Size:       size,
		UploadedAt: time.Now(),
	}, nil
}

// Locate finds the reference image for slug.
func (s *ImageStore) Locate(slug string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locateLocked(models.Slug(slug))
}

func (s *ImageStore) locateLocked(slug string) (string, bool) {
	for _, ext := range ImageExts {
		path := filepath.Join(s.dir, slug+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// List returns the most recent images.
func (s *ImageStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading image directory: %w", err)
	}

	var list []*models.FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := filepath.Ext(e.Name())
		if _, err := normalizeExt(ext); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		slug := strings.TrimSuffix(e.Name(), ext)
		list = append(list, &models.FileInfo{
			ID:         slug,
			Name:       slug,
			Path:       filepath.Join(s.dir, e.Name()),
			Size:       info.Size(),
			UploadedAt: info.ModTime(),
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes the image for slug.
func (s *ImageStore) Delete(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slug = models.Slug(slug)
	if _, ok := s.locateLocked(slug); !ok {
		return fmt.Errorf("image not found: %s", slug)
	}
	s.removeLocked(slug)
	return nil
}

func (s *ImageStore) removeLocked(slug string) {
	for _, ext := range ImageExts {
		os.Remove(filepath.Join(s.dir, slug+ext))
	}
}
