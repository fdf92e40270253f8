package scene

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"cogentcore.org/core/math32"
	"golang.org/x/sync/errgroup"

	"github.com/factory-twin/backend/internal/connector"
	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/geom"
	"github.com/factory-twin/backend/internal/models"
)

const (
	FloorName      = "floor"
	floorMargin    = 1.2
	floorThickness = 10
	portRadius     = 200
	portHeight     = 1000
	portPrefix     = "port_"
	connPrefix     = "conn_"
)

// Options configures assembly.
type Options struct {
	TargetSize        float32 // largest extent of a normalized machine mesh
	PlaceholderHeight float32
	Workers           int
	Connector         connector.Options
}

func DefaultOptions() Options {
	return Options{
		TargetSize:        3000,
		PlaceholderHeight: 1000,
		Workers:           4,
		Connector:         connector.DefaultOptions(),
	}
}

// Report summarizes what was placed.
type Report struct {
	Machines     int
	Placeholders []string // entity ids that fell back to a placeholder box
	Ports        int
	Connectors   int
	Warnings     []string

	mu sync.Mutex
}

func (r *Report) placeholder(id, warning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Placeholders = append(r.Placeholders, id)
	if warning != "" {
		r.Warnings = append(r.Warnings, warning)
	}
}

// Assembler builds scenes from layouts.
type Assembler struct {
	opts Options
}

func NewAssembler(opts Options) *Assembler {
	if opts.TargetSize <= 0 {
		opts.TargetSize = DefaultOptions().TargetSize
	}
	if opts.PlaceholderHeight <= 0 {
		opts.PlaceholderHeight = DefaultOptions().PlaceholderHeight
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Connector.Segments <= 0 {
		opts.Connector = connector.DefaultOptions()
	}
	return &Assembler{opts: opts}
}

// Assemble places the floor, every MACHINE and PORT entity and every
// connection of layout into a new scene. Individual mesh failures degrade
// to placeholders; only cancellation aborts.
func (a *Assembler) Assemble(ctx context.Context, name string, layout *models.Layout) (*Scene, *Report, error) {
	log := ctxlog.FromContext(ctx)
	sc := New(name)
	rep := &Report{}

	sc.Add(FloorName, floor(layout))

	names := uniqueNames(layout.Entities)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i := range layout.Entities {
		e := layout.Entities[i]
		nodeName := names[i]
		switch e.Kind {
		case models.EntityMachine:
			rep.Machines++
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				m := a.machineMesh(gctx, e, rep)
				sc.Add(nodeName, m)
				return nil
			})
		case models.EntityPort:
			rep.Ports++
			sc.Add(portPrefix+nodeName, portMarker(e))
		default:
			log.Debug("entity not rendered", "id", e.ID, "kind", e.Kind)
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("assemble %s: %w", name, err)
	}

	for _, c := range layout.Connections {
		geo := connector.Render(c, a.opts.Connector)
		if len(geo.Segments) == 0 {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("connection %s produced no geometry", c.ID))
			continue
		}
		sc.Add(connPrefix+models.Slug(c.ID), geo.Meshes(a.opts.Connector)...)
		rep.Connectors++
	}

	log.Info("scene assembled",
		"scene", name,
		"machines", rep.Machines,
		"placeholders", len(rep.Placeholders),
		"ports", rep.Ports,
		"connectors", rep.Connectors)
	return sc, rep, nil
}

func (a *Assembler) machineMesh(ctx context.Context, e models.Entity, rep *Report) *geom.Mesh {
	var m *geom.Mesh
	if e.MeshRef != "" {
		loaded, err := a.normalizedModel(e.MeshRef)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("machine mesh unusable, using placeholder",
				"id", e.ID, "mesh", e.MeshRef, "error", err)
			rep.placeholder(e.ID, fmt.Sprintf("entity %s: %v", e.ID, err))
		} else {
			m = loaded
		}
	} else {
		rep.placeholder(e.ID, "")
	}
	if m == nil {
		d := e.Dimensions.OrDefault()
		m = geom.Box(float32(d.Length), float32(d.Width), a.opts.PlaceholderHeight, geom.ColorPlaceholder)
	}

	m.RotateAxis(math32.Vec3(0, 0, 1), math32.DegToRad(float32(e.Rotation)))
	m.Translate(math32.Vec3(float32(e.Position.X), float32(e.Position.Y), 0))
	b := m.Bounds()
	m.Translate(math32.Vec3(0, 0, -b.Min.Z))
	return m
}

// normalizedModel loads a Y-up model, scales it so its largest extent is
// TargetSize, turns it Z-up and centres it on the origin in XY.
func (a *Assembler) normalizedModel(path string) (*geom.Mesh, error) {
	m, err := LoadMesh(path)
	if err != nil {
		return nil, err
	}
	size := m.Bounds().Size()
	extent := math32.Max(size.X, math32.Max(size.Y, size.Z))
	if !(extent > 0) || math32.IsInf(extent, 0) {
		return nil, fmt.Errorf("degenerate bounds %v", size)
	}

	m.Scale(a.opts.TargetSize / extent)
	m.RotateAxis(math32.Vec3(1, 0, 0), math32.Pi/2)
	c := m.Bounds().Center()
	m.Translate(math32.Vec3(-c.X, -c.Y, 0))
	m.Color = geom.ColorMachine
	return m, nil
}

func floor(layout *models.Layout) *geom.Mesh {
	w, h := layout.Width, layout.Height
	if w <= 0 {
		w = models.DefaultFloorExtent
	}
	if h <= 0 {
		h = models.DefaultFloorExtent
	}
	m := geom.Box(float32(w*floorMargin), float32(h*floorMargin), floorThickness, geom.ColorFloor)
	return m.Translate(math32.Vec3(float32(layout.Center.X), float32(layout.Center.Y), -floorThickness/2))
}

func portMarker(e models.Entity) *geom.Mesh {
	m := geom.Cylinder(portRadius, portHeight, 16, geom.ColorPort)
	return m.Translate(math32.Vec3(float32(e.Position.X), float32(e.Position.Y), portHeight/2))
}

// uniqueNames assigns each entity its slug, suffixing repeats in entity
// order so names are stable regardless of placement order.
func uniqueNames(entities []models.Entity) []string {
	names := make([]string, len(entities))
	seen := make(map[string]int, len(entities))
	for i := range entities {
		slug := entities[i].Slug()
		seen[slug]++
		if n := seen[slug]; n > 1 {
			slug = slug + "_" + strconv.Itoa(n)
		}
		names[i] = slug
	}
	return names
}
