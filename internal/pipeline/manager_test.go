package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factory-twin/backend/internal/models"
)

type fakeRecorder struct {
	mu   sync.Mutex
	runs []*models.PipelineRun
}

func (f *fakeRecorder) RecordRun(ctx context.Context, run *models.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

type fakePublisher struct {
	err error
}

func (f *fakePublisher) Publish(ctx context.Context, project, localPath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "s3://bucket/" + project + "/" + filepath.Base(localPath), nil
}

func newTestManager(t *testing.T, dataDir string, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(context.Background(), NewOrchestrator(&stubResolver{}, testOptions(), nil), dataDir, opts...)
	t.Cleanup(m.Close)
	return m
}

func encodeInto(t *testing.T, dataDir, name string) Project {
	t.Helper()
	p, err := NewProject(dataDir, name)
	require.NoError(t, err)
	_, _, err = Encode(context.Background(), p, sampleManifest())
	require.NoError(t, err)
	return p
}

func TestManager_StartRun_Validation(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	_, err := m.StartRun("../escape")
	assert.ErrorIs(t, err, ErrInvalidProject)

	_, err = m.StartRun("plant_a")
	assert.ErrorIs(t, err, ErrHandoverMissing)
	assert.Empty(t, m.ListRuns(), "no run is created without a handover")
}

func TestManager_RunCompletes(t *testing.T) {
	dataDir := t.TempDir()
	encodeInto(t, dataDir, "plant_a")
	rec := &fakeRecorder{}
	m := newTestManager(t, dataDir, WithRecorder(rec), WithPublisher(&fakePublisher{}))

	run, err := m.StartRun("plant_a")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)

	events, unsubscribe, err := m.Subscribe(run.ID)
	require.NoError(t, err)
	defer unsubscribe()

	var last Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, models.RunStatusComplete, last.Status)
	assert.Equal(t, 100.0, last.Progress)

	m.Wait()
	got, ok := m.GetRun(run.ID)
	require.True(t, ok)
	assert.Equal(t, models.RunStatusComplete, got.Status)
	assert.Equal(t, 3, got.EntityCount)
	assert.Equal(t, "s3://bucket/plant_a/plant_a_complete.glb", got.PublishedTo)
	assert.Len(t, got.Outcomes, 2)
	require.NotNil(t, got.CompletedAt)

	layout, ok := m.Layout(run.ID)
	require.True(t, ok)
	assert.Len(t, layout.Connections, 2)

	rec.mu.Lock()
	require.Len(t, rec.runs, 1)
	assert.Equal(t, run.ID, rec.runs[0].ID)
	rec.mu.Unlock()

	// late subscribers get the final state
	late, _, err := m.Subscribe(run.ID)
	require.NoError(t, err)
	ev, ok := <-late
	require.True(t, ok)
	assert.Equal(t, models.RunStatusComplete, ev.Status)
	_, ok = <-late
	assert.False(t, ok)
}

func TestManager_PublishFailureIsWarning(t *testing.T) {
	dataDir := t.TempDir()
	encodeInto(t, dataDir, "plant_a")
	m := newTestManager(t, dataDir, WithPublisher(&fakePublisher{err: errors.New("bucket gone")}))

	run, err := m.StartRun("plant_a")
	require.NoError(t, err)
	m.Wait()

	got, _ := m.GetRun(run.ID)
	assert.Equal(t, models.RunStatusComplete, got.Status)
	assert.Empty(t, got.PublishedTo)
	assert.Contains(t, got.Warnings, "publish: bucket gone")
}

func TestManager_RunError(t *testing.T) {
	dataDir := t.TempDir()
	p := encodeInto(t, dataDir, "plant_a")
	require.NoError(t, os.WriteFile(p.DXFPath(), []byte("not a drawing"), 0644))
	rec := &fakeRecorder{}
	m := newTestManager(t, dataDir, WithRecorder(rec))

	run, err := m.StartRun("plant_a")
	require.NoError(t, err)
	m.Wait()

	got, _ := m.GetRun(run.ID)
	assert.Equal(t, models.RunStatusError, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.Len(t, rec.runs, 1)
	_, ok := m.Layout(run.ID)
	assert.False(t, ok)
}

func TestManager_SubscribeUnknown(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	_, _, err := m.Subscribe("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestManager_CleanupOldRuns(t *testing.T) {
	dataDir := t.TempDir()
	encodeInto(t, dataDir, "plant_a")
	m := newTestManager(t, dataDir)

	run, err := m.StartRun("plant_a")
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, 0, m.CleanupOldRuns(time.Hour))
	assert.Equal(t, 1, m.CleanupOldRuns(-time.Second))
	_, ok := m.GetRun(run.ID)
	assert.False(t, ok)
}

func TestPhaseStatus(t *testing.T) {
	tests := []struct {
		in       Progress
		status   models.RunStatus
		progress float64
	}{
		{Progress{Phase: PhaseDecode}, models.RunStatusDecoding, 0},
		{Progress{Phase: PhaseResolve, Done: 0, Total: 4}, models.RunStatusResolving, 10},
		{Progress{Phase: PhaseResolve, Done: 2, Total: 4}, models.RunStatusResolving, 45},
		{Progress{Phase: PhaseResolve}, models.RunStatusResolving, 80},
		{Progress{Phase: PhaseAssemble}, models.RunStatusAssembling, 80},
		{Progress{Phase: PhaseExport}, models.RunStatusAssembling, 95},
	}
	for _, tt := range tests {
		status, progress := phaseStatus(tt.in)
		assert.Equal(t, tt.status, status)
		assert.InDelta(t, tt.progress, progress, 1e-9)
	}
}
