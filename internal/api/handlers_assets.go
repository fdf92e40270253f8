// handlers_assets.go - Reference image and mesh cache handlers
package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/storage"
)

// AssetHandlerImpl implements the AssetHandler interface
type AssetHandlerImpl struct {
	images *storage.ImageStore
	cache  *storage.MeshCache
}

// NewAssetHandler creates a new asset handler instance
func NewAssetHandler(images *storage.ImageStore, cache *storage.MeshCache) AssetHandler {
	return &AssetHandlerImpl{
		images: images,
		cache:  cache,
	}
}

// HandleUploadImage accepts a reference image (multipart/form-data). The
// optional "name" field is the entity name; it defaults to the file name.
func (h *AssetHandlerImpl) HandleUploadImage(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	ext := filepath.Ext(file.Filename)
	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(file.Filename), ext)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.images.Save(name, ext, src)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedImage) {
			return NewBadRequestError("unsupported image type", err)
		}
		return NewInternalError("failed to save image", err)
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleListImages returns stored reference images, newest first
func (h *AssetHandlerImpl) HandleListImages(c echo.Context) error {
	files, err := h.images.List(parseIntDefault(c.QueryParam("limit"), 100))
	if err != nil {
		return NewInternalError("failed to list images", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleDeleteImage removes the reference image of one slug
func (h *AssetHandlerImpl) HandleDeleteImage(c echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	if err := h.images.Delete(slug); err != nil {
		return NewNotFoundError("image", slug)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleListCache returns the slugs that have a cached mesh
func (h *AssetHandlerImpl) HandleListCache(c echo.Context) error {
	slugs, err := h.cache.Slugs()
	if err != nil {
		return NewInternalError("failed to list cache", err)
	}
	if slugs == nil {
		slugs = []string{}
	}
	return c.JSON(http.StatusOK, slugs)
}

// HandleClearCache drops one cached mesh so the next run regenerates it
func (h *AssetHandlerImpl) HandleClearCache(c echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	if err := h.cache.Clear(slug); err != nil {
		return NewInternalError("failed to clear cache entry", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleClearAllCache empties the mesh cache
func (h *AssetHandlerImpl) HandleClearAllCache(c echo.Context) error {
	n, err := h.cache.ClearAll()
	if err != nil {
		return NewInternalError("failed to clear cache", err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": n})
}

// slugParam rejects anything that is not already a slug.
func slugParam(c echo.Context) (string, error) {
	slug := c.Param("slug")
	if slug == "" || models.Slug(slug) != slug {
		return "", NewValidationError("slug")
	}
	return slug, nil
}
