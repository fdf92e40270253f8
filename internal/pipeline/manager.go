package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/metrics"
	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/publish"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, run *models.PipelineRun) error
}

// Event is a run state change pushed to subscribers.
type Event struct {
	RunID    string           `json:"runId"`
	Status   models.RunStatus `json:"status"`
	Progress float64          `json:"progress"`
	Stage    string           `json:"stage"`
	Error    string           `json:"error,omitempty"`
	Time     time.Time        `json:"time"`
}

// Manager runs pipelines in the background and tracks their state.
type Manager struct {
	orch    *Orchestrator
	dataDir string

	recorder  Recorder
	publisher publish.Publisher
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	runs    map[string]*models.PipelineRun
	layouts map[string]*models.Layout
	subs    map[string]map[chan Event]struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder stores every finished run.
func WithRecorder(r Recorder) ManagerOption { return func(m *Manager) { m.recorder = r } }

// WithPublisher uploads every exported scene.
func WithPublisher(p publish.Publisher) ManagerOption { return func(m *Manager) { m.publisher = p } }

// WithManagerMetrics counts runs.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption { return func(m *Manager) { m.metrics = mt } }

// NewManager creates a manager whose runs inherit ctx's logger. Runs are
// cancelled by Close, not by ctx.
func NewManager(ctx context.Context, orch *Orchestrator, dataDir string, opts ...ManagerOption) *Manager {
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Manager{
		orch:    orch,
		dataDir: dataDir,
		runs:    make(map[string]*models.PipelineRun),
		layouts: make(map[string]*models.Layout),
		subs:    make(map[string]map[chan Event]struct{}),
		baseCtx: base,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// DataDir is where project directories live.
func (m *Manager) DataDir() string { return m.dataDir }

// Project resolves a project name under the data directory.
func (m *Manager) Project(name string) (Project, error) {
	return NewProject(m.dataDir, name)
}

// StartRun validates the project and its handover contract, then runs the
// pipeline in the background. A missing contract is reported here rather
// than as a failed run.
func (m *Manager) StartRun(projectName string) (*models.PipelineRun, error) {
	project, err := m.Project(projectName)
	if err != nil {
		return nil, err
	}
	if err := project.CheckHandover(); err != nil {
		return nil, err
	}

	run := models.NewPipelineRun(uuid.New().String(), project.Name)
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	m.metrics.RunStarted()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(run, project)
	}()
	return snapshot(run), nil
}

func (m *Manager) execute(run *models.PipelineRun, project Project) {
	log := ctxlog.FromContext(m.baseCtx).With("run", run.ID[:8], "project", project.Name)
	ctx := ctxlog.WithLogger(m.baseCtx, log)
	log.Info("pipeline run started")

	res, err := m.orch.Run(ctx, project, func(p Progress) {
		m.updateRunStatus(run.ID, p)
	})
	if err != nil {
		m.markRunError(ctx, run.ID, err)
		return
	}

	publishedTo := ""
	if m.publisher != nil {
		uri, err := m.publisher.Publish(ctx, project.Name, res.ScenePath)
		if err != nil {
			log.Warn("scene publish failed", "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("publish: %v", err))
		} else {
			publishedTo = uri
		}
	}
	m.markRunComplete(ctx, run.ID, res, publishedTo)
}

// phaseStatus maps orchestrator phases to run status and the progress band
// each phase occupies: decode 0-10, resolve 10-80, assemble 80-95, export 95-100.
func phaseStatus(p Progress) (models.RunStatus, float64) {
	switch p.Phase {
	case PhaseDecode:
		return models.RunStatusDecoding, 0
	case PhaseResolve:
		frac := 1.0
		if p.Total > 0 {
			frac = float64(p.Done) / float64(p.Total)
		}
		return models.RunStatusResolving, 10 + frac*70
	case PhaseAssemble:
		return models.RunStatusAssembling, 80
	default:
		return models.RunStatusAssembling, 95
	}
}

// updateRunStatus updates run progress (thread-safe). Progress never moves
// backwards.
func (m *Manager) updateRunStatus(id string, p Progress) {
	status, progress := phaseStatus(p)

	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok || run.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	run.Status = status
	run.Stage = string(p.Phase)
	if progress > run.Progress {
		run.Progress = progress
	}
	ev := eventFor(run)
	m.mu.Unlock()

	m.broadcast(ev, false)
}

func (m *Manager) markRunComplete(ctx context.Context, id string, res *Result, publishedTo string) {
	m.mu.Lock()
	run := m.runs[id]
	run.Status = models.RunStatusComplete
	run.Progress = 100
	run.Stage = "done"
	run.EntityCount = len(res.Layout.Entities)
	run.ScenePath = res.ScenePath
	run.PublishedTo = publishedTo
	run.Outcomes = res.Outcomes
	run.Warnings = res.Warnings
	now := time.Now()
	run.CompletedAt = &now
	m.layouts[id] = res.Layout
	final := snapshot(run)
	m.mu.Unlock()

	ctxlog.FromContext(ctx).Info("pipeline run complete",
		"scene", res.ScenePath,
		"placeholders", len(res.Placeholders),
		"warnings", len(res.Warnings),
		"duration", now.Sub(run.StartedAt))
	m.finish(ctx, final)
}

func (m *Manager) markRunError(ctx context.Context, id string, err error) {
	m.mu.Lock()
	run := m.runs[id]
	run.Status = models.RunStatusError
	run.Error = err.Error()
	now := time.Now()
	run.CompletedAt = &now
	final := snapshot(run)
	m.mu.Unlock()

	ctxlog.FromContext(ctx).Error("pipeline run failed", "error", err)
	m.finish(ctx, final)
}

func (m *Manager) finish(ctx context.Context, run *models.PipelineRun) {
	m.metrics.RunFinished(string(run.Status))
	if m.recorder != nil {
		if err := m.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			ctxlog.FromContext(ctx).Warn("failed to record run", "error", err)
		}
	}
	m.broadcast(eventFor(run), true)
}

// GetRun returns a copy of the run state.
func (m *Manager) GetRun(id string) (*models.PipelineRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	return snapshot(run), true
}

// ListRuns returns copies of all tracked runs, newest first.
func (m *Manager) ListRuns() []*models.PipelineRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.PipelineRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, snapshot(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Layout returns the decoded layout of a completed run.
func (m *Manager) Layout(id string) (*models.Layout, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.layouts[id]
	return l, ok
}

// Subscribe returns a channel of events for one run and a function to stop
// listening. The channel is closed after the terminal event. Subscribing
// to a finished run yields its final event and a closed channel.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), error) {
	ch := make(chan Event, 32)

	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrRunNotFound
	}
	if run.Status.Terminal() {
		ch <- eventFor(run)
		close(ch)
		m.mu.Unlock()
		return ch, func() {}, nil
	}
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Event]struct{})
	}
	m.subs[id][ch] = struct{}{}
	ch <- eventFor(run)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id][ch]; ok {
			delete(m.subs[id], ch)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

// broadcast delivers ev without blocking; slow subscribers miss
// intermediate events but always get the terminal one.
func (m *Manager) broadcast(ev Event, terminal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[ev.RunID] {
		if terminal {
			select {
			case ch <- ev:
			default:
				// make room for the final event
				select {
				case <-ch:
				default:
				}
				ch <- ev
			}
			close(ch)
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
	if terminal {
		delete(m.subs, ev.RunID)
	}
}

// CleanupOldRuns removes finished runs older than maxAge.
func (m *Manager) CleanupOldRuns(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, run := range m.runs {
		if run.Status.Terminal() && run.CompletedAt != nil && run.CompletedAt.Before(cutoff) {
			delete(m.runs, id)
			delete(m.layouts, id)
			removed++
		}
	}
	return removed
}

// Wait blocks until all background runs have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight runs and waits for them to stop.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func eventFor(run *models.PipelineRun) Event {
	return Event{
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Stage:    run.Stage,
		Error:    run.Error,
		Time:     time.Now(),
	}
}

func snapshot(run *models.PipelineRun) *models.PipelineRun {
	cp := *run
	cp.Outcomes = append([]models.AssetOutcome(nil), run.Outcomes...)
	cp.Warnings = append([]string(nil), run.Warnings...)
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
