package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/dxf"
	"github.com/factory-twin/backend/internal/metrics"
	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/parser"
	"github.com/factory-twin/backend/internal/scene"
)

// Phase names one orchestrator step.
type Phase string

const (
	PhaseDecode   Phase = "decode"
	PhaseResolve  Phase = "resolve"
	PhaseAssemble Phase = "assemble"
	PhaseExport   Phase = "export"
)

// Progress is reported as phases advance. Done/Total count entities during
// RESOLVE and are zero otherwise.
type Progress struct {
	Phase Phase
	Done  int
	Total int
}

// ProgressFunc receives progress updates. It may be called from several
// goroutines at once.
type ProgressFunc func(Progress)

// EntityResolver produces a mesh outcome for one entity.
type EntityResolver interface {
	Resolve(ctx context.Context, e models.Entity) models.AssetOutcome
}

// Options tunes a run.
type Options struct {
	Workers       int           // concurrent entity resolutions
	EntityTimeout time.Duration // zero disables the per-entity deadline
	Scene         scene.Options
}

// Result is everything a finished run produced.
type Result struct {
	Layout       *models.Layout
	Outcomes     []models.AssetOutcome
	ScenePath    string
	Placeholders []string
	Warnings     []string
}

// Orchestrator sequences the pipeline phases.
type Orchestrator struct {
	resolver  EntityResolver
	assembler *scene.Assembler
	opts      Options
	metrics   *metrics.Metrics
}

func NewOrchestrator(res EntityResolver, opts Options, m *metrics.Metrics) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{
		resolver:  res,
		assembler: scene.NewAssembler(opts.Scene),
		opts:      opts,
		metrics:   m,
	}
}

// Run executes DECODE → RESOLVE → ASSEMBLE for project. A missing handover
// contract or an unreadable drafting file aborts before any entity work;
// per-entity problems only degrade that entity.
func (o *Orchestrator) Run(ctx context.Context, project Project, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	log := ctxlog.FromContext(ctx).With("project", project.Name)
	ctx = ctxlog.WithLogger(ctx, log)

	if err := project.CheckHandover(); err != nil {
		return nil, err
	}

	// DECODE
	progress(Progress{Phase: PhaseDecode})
	start := time.Now()
	layout, report, err := dxf.ReadFile(ctx, project.DXFPath())
	if err != nil {
		return nil, err
	}
	res := &Result{Layout: layout, Warnings: report.Warnings()}
	res.Warnings = append(res.Warnings, o.applyManifest(ctx, project, layout)...)
	o.metrics.ObservePhase(string(PhaseDecode), time.Since(start))
	log.Info("layout decoded", "entities", len(layout.Entities), "connections", len(layout.Connections))

	// RESOLVE
	if err := project.CheckHandover(); err != nil {
		return nil, err
	}
	start = time.Now()
	res.Outcomes = o.resolveAll(ctx, layout, progress)
	for _, out := range res.Outcomes {
		if out.MeshPath == "" {
			continue
		}
		if e, ok := layout.Entity(out.EntityID); ok {
			e.MeshRef = out.MeshPath
		}
	}
	o.metrics.ObservePhase(string(PhaseResolve), time.Since(start))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ASSEMBLE
	if err := project.CheckHandover(); err != nil {
		return nil, err
	}
	progress(Progress{Phase: PhaseAssemble})
	start = time.Now()
	sc, rep, err := o.assembler.Assemble(ctx, project.Name, layout)
	if err != nil {
		return nil, err
	}
	res.Placeholders = rep.Placeholders
	res.Warnings = append(res.Warnings, rep.Warnings...)
	o.metrics.ObservePhase(string(PhaseAssemble), time.Since(start))

	progress(Progress{Phase: PhaseExport})
	start = time.Now()
	if err := sc.Export(ctx, project.ScenePath()); err != nil {
		return nil, err
	}
	o.metrics.ObservePhase(string(PhaseExport), time.Since(start))
	res.ScenePath = project.ScenePath()
	return res, nil
}

// applyManifest cross-checks the decoded layout against the manifest.
// Manifest images fill in missing image references and machines absent from
// the drawing are reported. An unreadable manifest is only a warning since
// the drawing alone is enough to build a scene.
func (o *Orchestrator) applyManifest(ctx context.Context, project Project, layout *models.Layout) []string {
	m, err := parser.ParseManifest(project.ManifestPath())
	if err != nil {
		ctxlog.FromContext(ctx).Warn("manifest unreadable, continuing with drawing only", "error", err)
		return []string{fmt.Sprintf("manifest: %v", err)}
	}

	var warnings []string
	for _, mm := range m.Machines {
		e, ok := layout.Entity(mm.ID)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("manifest machine %s not in drawing", mm.ID))
			continue
		}
		if e.ImageRef == "" && mm.Image != "" {
			e.ImageRef = project.ResolvePath(mm.Image)
		}
		if e.Name == "" {
			e.Name = mm.Name
		}
	}
	if len(warnings) > 0 {
		ctxlog.FromContext(ctx).Warn("manifest and drawing disagree", "count", len(warnings))
	}
	return warnings
}

// resolveAll resolves every machine concurrently up to the worker limit.
// Outcomes keep entity order.
func (o *Orchestrator) resolveAll(ctx context.Context, layout *models.Layout, progress ProgressFunc) []models.AssetOutcome {
	machines := layout.Machines()
	outcomes := make([]models.AssetOutcome, len(machines))
	progress(Progress{Phase: PhaseResolve, Total: len(machines)})

	var (
		mu   sync.Mutex
		done int
	)
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, idx := range machines {
		e := layout.Entities[idx]
		g.Go(func() error {
			outcomes[i] = o.resolveOne(ctx, e)
			mu.Lock()
			done++
			p := Progress{Phase: PhaseResolve, Done: done, Total: len(machines)}
			mu.Unlock()
			progress(p)
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// resolveOne bounds a single resolution by EntityTimeout. On expiry the
// resolution keeps running in the background but nobody waits for it.
func (o *Orchestrator) resolveOne(ctx context.Context, e models.Entity) models.AssetOutcome {
	if o.opts.EntityTimeout <= 0 {
		return o.resolver.Resolve(ctx, e)
	}

	tctx, cancel := context.WithTimeout(ctx, o.opts.EntityTimeout)
	defer cancel()

	result := make(chan models.AssetOutcome, 1)
	go func() {
		result <- o.resolver.Resolve(tctx, e)
	}()

	select {
	case out := <-result:
		return out
	case <-tctx.Done():
		ctxlog.FromContext(ctx).Warn("entity resolution timed out, using placeholder",
			"entity", e.ID, "timeout", o.opts.EntityTimeout)
		return models.AssetOutcome{
			EntityID: e.ID,
			Slug:     e.Slug(),
			Status:   models.AssetTimeout,
			Error:    tctx.Err().Error(),
		}
	}
}
