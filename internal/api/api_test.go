package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/factory-twin/backend/internal/catalog"
	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/pipeline"
	"github.com/factory-twin/backend/internal/storage"
)

// fakeRuns is an in-memory RunManager.
type fakeRuns struct {
	mu       sync.Mutex
	dataDir  string
	runs     map[string]*models.PipelineRun
	layouts  map[string]*models.Layout
	events   chan pipeline.Event
	startErr error
	started  []string
}

func newFakeRuns(dataDir string) *fakeRuns {
	return &fakeRuns{
		dataDir: dataDir,
		runs:    make(map[string]*models.PipelineRun),
		layouts: make(map[string]*models.Layout),
	}
}

func (f *fakeRuns) StartRun(project string) (*models.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, project)
	run := models.NewPipelineRun(fmt.Sprintf("run-%d", len(f.started)), project)
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeRuns) GetRun(id string) (*models.PipelineRun, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	return r, ok
}

func (f *fakeRuns) ListRuns() []*models.PipelineRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PipelineRun
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out
}

func (f *fakeRuns) Layout(id string) (*models.Layout, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.layouts[id]
	return l, ok
}

func (f *fakeRuns) Subscribe(id string) (<-chan pipeline.Event, func(), error) {
	if _, ok := f.GetRun(id); !ok {
		return nil, nil, pipeline.ErrRunNotFound
	}
	return f.events, func() {}, nil
}

func (f *fakeRuns) Project(name string) (pipeline.Project, error) {
	return pipeline.NewProject(f.dataDir, name)
}

func (f *fakeRuns) add(run *models.PipelineRun, layout *models.Layout) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	if layout != nil {
		f.layouts[run.ID] = layout
	}
}

// fakeHistory is an in-memory RunHistory.
type fakeHistory struct {
	runs map[string]*models.PipelineRun
	err  error
}

func (f *fakeHistory) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.runs[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return r, nil
}

func (f *fakeHistory) ListRuns(ctx context.Context, project string, limit int) ([]*models.PipelineRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.PipelineRun
	for _, r := range f.runs {
		if project == "" || r.Project == project {
			out = append(out, r)
		}
	}
	return out, nil
}

type testEnv struct {
	e       *echo.Echo
	runs    *fakeRuns
	history *fakeHistory
	images  *storage.ImageStore
	cache   *storage.MeshCache
	dataDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	images, err := storage.NewImageStore(dir + "/images")
	require.NoError(t, err)
	cache, err := storage.NewMeshCache(dir + "/cache")
	require.NoError(t, err)

	env := &testEnv{
		e:       echo.New(),
		runs:    newFakeRuns(dir + "/data"),
		history: &fakeHistory{runs: map[string]*models.PipelineRun{}},
		images:  images,
		cache:   cache,
		dataDir: dir + "/data",
	}
	env.e.HTTPErrorHandler = ErrorHandler
	RegisterRoutes(env.e, NewHandlers(&Dependencies{
		Runs:    env.runs,
		History: env.history,
		Images:  images,
		Cache:   cache,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
		Version: "test",
	}))
	return env
}

func (env *testEnv) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func completedRun(id, project string) *models.PipelineRun {
	run := models.NewPipelineRun(id, project)
	run.Status = models.RunStatusComplete
	run.Progress = 100
	now := time.Now()
	run.CompletedAt = &now
	run.Outcomes = []models.AssetOutcome{
		{EntityID: "m1", Slug: "Press", Status: models.AssetGenerated, Attempts: 2, MeshPath: "/cache/Press/Press.glb"},
		{EntityID: "m2", Slug: "Lathe", Status: models.AssetNoImage},
	}
	return run
}

var errBoom = errors.New("boom")
