package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/storage"
	"github.com/factory-twin/backend/internal/testutil"
)

var meshBytes = []byte("glTF\x02\x00\x00\x00fake-mesh")

type fixture struct {
	cache  *storage.MeshCache
	images *storage.ImageStore
	clock  *testutil.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cache, err := storage.NewMeshCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	images, err := storage.NewImageStore(filepath.Join(dir, "images"))
	require.NoError(t, err)
	return &fixture{cache: cache, images: images, clock: &testutil.ManualClock{}}
}

func (f *fixture) addImage(t *testing.T, name string) {
	t.Helper()
	_, err := f.images.Save(name, ".png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
}

func (f *fixture) resolver(gen Generator) *Resolver {
	return New(f.cache, f.images, gen, WithClock(f.clock))
}

// countingGenerator wraps a generator and counts calls.
type countingGenerator struct {
	Generator
	calls atomic.Int32
}

func (c *countingGenerator) Generate(ctx context.Context, image string) (io.ReadCloser, error) {
	c.calls.Add(1)
	return c.Generator.Generate(ctx, image)
}

func TestResolve_UnreachableEndpointExhausts(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "Press")

	gen := &countingGenerator{Generator: NewHTTPGenerator(testutil.UnreachableURL(t), 2*time.Second)}
	out := f.resolver(gen).Resolve(context.Background(), models.Entity{ID: "m1", Name: "Press"})

	assert.Equal(t, models.AssetExhausted, out.Status)
	assert.Equal(t, 5, out.Attempts)
	assert.EqualValues(t, 5, gen.calls.Load())
	assert.Empty(t, out.MeshPath)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 15 * time.Second, 20 * time.Second, 25 * time.Second,
	}, f.clock.Sleeps())
}

func TestResolve_CacheHitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "Glass Washer")
	srv := testutil.NewMeshServer(t, meshBytes)

	r := f.resolver(NewHTTPGenerator(srv.URL, time.Second))
	e := models.Entity{ID: "m2", Name: "Glass Washer"}

	first := r.Resolve(context.Background(), e)
	require.Equal(t, models.AssetGenerated, first.Status)
	assert.Equal(t, 1, first.Attempts)

	second := r.Resolve(context.Background(), e)
	assert.Equal(t, models.AssetCached, second.Status)
	assert.Equal(t, first.MeshPath, second.MeshPath)
	assert.Equal(t, 1, srv.Calls(), "second resolve must not hit the network")
	assert.Equal(t, []string{"Glass_Washer.png"}, srv.Filenames())

	data, err := os.ReadFile(first.MeshPath)
	require.NoError(t, err)
	assert.Equal(t, meshBytes, data)
}

func TestResolve_RejectionDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "Oven")
	srv := testutil.NewMeshServer(t, meshBytes, http.StatusUnprocessableEntity)

	out := f.resolver(NewHTTPGenerator(srv.URL, time.Second)).
		Resolve(context.Background(), models.Entity{ID: "o", Name: "Oven"})

	assert.Equal(t, models.AssetRejected, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, srv.Calls())
	assert.Empty(t, f.clock.Sleeps())
	assert.Contains(t, out.Error, "422")
}

func TestResolve_TransientThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "Mixer")
	srv := testutil.NewMeshServer(t, meshBytes, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK)

	out := f.resolver(NewHTTPGenerator(srv.URL, time.Second)).
		Resolve(context.Background(), models.Entity{ID: "x", Name: "Mixer"})

	assert.Equal(t, models.AssetGenerated, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, f.clock.Sleeps())
	_, ok := f.cache.Lookup("Mixer")
	assert.True(t, ok)
}

func TestResolve_NoImageDegrades(t *testing.T) {
	f := newFixture(t)
	srv := testutil.NewMeshServer(t, meshBytes)
	r := f.resolver(NewHTTPGenerator(srv.URL, time.Second))

	out := r.Resolve(context.Background(), models.Entity{ID: "a", Name: "Nothing Here"})
	assert.Equal(t, models.AssetNoImage, out.Status)

	out = r.Resolve(context.Background(), models.Entity{ID: "b", Name: "Ghost", ImageRef: "/does/not/exist.png"})
	assert.Equal(t, models.AssetNoImage, out.Status)
	assert.Zero(t, srv.Calls())
}

func TestResolve_NoGeneratorDegrades(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "Lathe")

	out := f.resolver(nil).Resolve(context.Background(), models.Entity{ID: "l", Name: "Lathe"})
	assert.Equal(t, models.AssetFailed, out.Status)
	assert.True(t, out.Status.Degraded())
}

func TestResolve_CancelledDuringBackoff(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "Press")

	ctx, cancel := context.WithCancel(context.Background())
	gen := generatorFunc(func(context.Context, string) (io.ReadCloser, error) {
		cancel()
		return nil, &TransientError{Err: errors.New("reset")}
	})

	out := f.resolver(gen).Resolve(ctx, models.Entity{ID: "p", Name: "Press"})
	assert.Equal(t, models.AssetTimeout, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestResolve_TruncatedBodyIsTransient(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "Press")

	calls := 0
	gen := generatorFunc(func(context.Context, string) (io.ReadCloser, error) {
		calls++
		if calls == 1 {
			return io.NopCloser(&brokenReader{}), nil
		}
		return io.NopCloser(strings.NewReader("mesh")), nil
	})

	out := f.resolver(gen).Resolve(context.Background(), models.Entity{ID: "p", Name: "Press"})
	assert.Equal(t, models.AssetGenerated, out.Status)
	assert.Equal(t, 2, out.Attempts)
}

type generatorFunc func(context.Context, string) (io.ReadCloser, error)

func (g generatorFunc) Generate(ctx context.Context, image string) (io.ReadCloser, error) {
	return g(ctx, image)
}

type brokenReader struct{ sent bool }

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		p[0] = 'g'
		return 1, nil
	}
	return 0, errors.New("unexpected EOF")
}
