// storage_test.go - Tests for image store and mesh cache
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeshCache_WriteAndLookup(t *testing.T) {
	cache, err := NewMeshCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	_, ok := cache.Lookup("Press 01")
	assert.False(t, ok)

	path, size, err := cache.Write("Press 01", strings.NewReader("glTF-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, filepath.Join(cache.Dir(), "Press_01", "Press_01.glb"), path)

	got, ok := cache.Lookup("Press_01")
	assert.True(t, ok)
	assert.Equal(t, path, got)
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		r.n--
		p[0] = 'x'
		return 1, nil
	}
	return 0, errors.New("connection reset")
}

func TestMeshCache_PartialWriteNeverVisible(t *testing.T) {
	cache, err := NewMeshCache(t.TempDir())
	require.NoError(t, err)

	_, _, err = cache.Write("oven", &failingReader{n: 3})
	require.Error(t, err)

	_, ok := cache.Lookup("oven")
	assert.False(t, ok)

	entries, err := os.ReadDir(filepath.Join(cache.Dir(), "oven"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

func TestMeshCache_EmptyBodyRejected(t *testing.T) {
	cache, err := NewMeshCache(t.TempDir())
	require.NoError(t, err)

	_, _, err = cache.Write("oven", strings.NewReader(""))
	assert.Error(t, err)
	_, ok := cache.Lookup("oven")
	assert.False(t, ok)
}

func TestMeshCache_Clear(t *testing.T) {
	cache, err := NewMeshCache(t.TempDir())
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c"} {
		_, _, err := cache.Write(s, strings.NewReader("data"))
		require.NoError(t, err)
	}

	require.NoError(t, cache.Clear("a"))
	require.NoError(t, cache.Clear("missing"))
	slugs, err := cache.Slugs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, slugs)

	n, err := cache.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImageStore(t *testing.T) {
	store, err := NewImageStore(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	t.Run("save and locate", func(t *testing.T) {
		info, err := store.Save("Glass Washer", "PNG", strings.NewReader("png"))
		require.NoError(t, err)
		assert.Equal(t, "Glass_Washer", info.ID)

		path, ok := store.Locate("Glass Washer")
		assert.True(t, ok)
		assert.Equal(t, info.Path, path)
	})

	t.Run("replacing keeps one image per slug", func(t *testing.T) {
		_, err := store.Save("Glass Washer", ".jpg", strings.NewReader("jpg"))
		require.NoError(t, err)

		path, ok := store.Locate("Glass_Washer")
		require.True(t, ok)
		assert.Equal(t, ".jpg", filepath.Ext(path))

		list, err := store.List(10)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		_, err := store.Save("x", ".gif", strings.NewReader("gif"))
		assert.Error(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete("Glass Washer"))
		_, ok := store.Locate("Glass_Washer")
		assert.False(t, ok)
		assert.Error(t, store.Delete("Glass Washer"))
	})
}
