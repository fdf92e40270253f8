package dxf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/models"
)

// ErrUnreadable marks a drafting file that could not be read as a whole.
var ErrUnreadable = errors.New("unreadable drafting file")

// Report lists everything decoding skipped without failing.
type Report struct {
	Skipped            []string `json:"skipped,omitempty"`            // malformed primitives
	DroppedConnections []string `json:"droppedConnections,omitempty"` // dangling endpoints
	Ignored            int      `json:"ignored"`                      // primitives outside the contract
}

// Warnings flattens the report into human-readable lines.
func (r *Report) Warnings() []string {
	out := append([]string(nil), r.Skipped...)
	for _, id := range r.DroppedConnections {
		out = append(out, fmt.Sprintf("connection %s dropped: unknown endpoint", id))
	}
	return out
}

// rawEntity is one primitive of the ENTITIES section.
type rawEntity struct {
	kind   string
	groups []pair
}

func (e *rawEntity) handle() string {
	v, _ := e.str(5)
	return v
}

// str returns the first native (non-XDATA) value for code.
func (e *rawEntity) str(code int) (string, bool) {
	for _, p := range e.groups {
		if p.code >= 1000 {
			break
		}
		if p.code == code {
			return p.value, true
		}
	}
	return "", false
}

func (e *rawEntity) float(code int, def float64) (float64, error) {
	v, ok := e.str(code)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("group %d: invalid number %q", code, v)
	}
	return f, nil
}

func (e *rawEntity) point(code int) (models.Vector3, error) {
	x, err := e.float(code, 0)
	if err != nil {
		return models.Vector3{}, err
	}
	y, err := e.float(code+10, 0)
	if err != nil {
		return models.Vector3{}, err
	}
	z, err := e.float(code+20, 0)
	if err != nil {
		return models.Vector3{}, err
	}
	return models.V3(x, y, z), nil
}

// vertices returns LWPOLYLINE vertices in order; each 10 group opens a
// vertex and the following 20 group completes it.
func (e *rawEntity) vertices(elevation float64) ([]models.Vector3, error) {
	var pts []models.Vector3
	for _, p := range e.groups {
		if p.code >= 1000 {
			break
		}
		switch p.code {
		case 10, 20:
			f, err := strconv.ParseFloat(strings.TrimSpace(p.value), 64)
			if err != nil {
				return nil, fmt.Errorf("vertex %d: invalid coordinate %q", len(pts), p.value)
			}
			if p.code == 10 {
				pts = append(pts, models.V3(f, 0, elevation))
			} else if len(pts) > 0 {
				pts[len(pts)-1].Y = f
			}
		}
	}
	return pts, nil
}

func (e *rawEntity) metadata() metadata {
	return parseMetadata(e.groups)
}

// ReadFile decodes the drafting file at path.
func ReadFile(ctx context.Context, path string) (*models.Layout, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()
	return Decode(ctx, f, path)
}

// Decode rebuilds a layout from a DXF stream. Metadata is authoritative;
// native block names only fill in what metadata omits. A malformed primitive
// is skipped and reported, and floor bounds are always recomputed from the
// recovered entity positions.
func Decode(ctx context.Context, r io.Reader, sourceRef string) (*models.Layout, *Report, error) {
	logger := ctxlog.FromContext(ctx).With("source", sourceRef)

	pairs, err := readPairs(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	layout := &models.Layout{
		SourceRef:   sourceRef,
		Entities:    make([]models.Entity, 0),
		Connections: make([]models.Connection, 0),
	}
	report := &Report{}
	seen := make(map[string]struct{})
	addEntity := func(ent models.Entity) error {
		if _, dup := seen[ent.ID]; dup {
			return fmt.Errorf("duplicate entity id %q", ent.ID)
		}
		seen[ent.ID] = struct{}{}
		layout.Entities = append(layout.Entities, ent)
		return nil
	}

	for _, raw := range entitiesSection(pairs) {
		var derr error
		switch raw.kind {
		case "INSERT":
			var ent models.Entity
			if ent, derr = decodeInsert(&raw); derr == nil {
				derr = addEntity(ent)
			}
		case "LWPOLYLINE":
			md := raw.metadata()
			if md[KeyType] != TypeConnectionEdge {
				report.Ignored++
				continue
			}
			var conn models.Connection
			if conn, derr = decodeConnection(&raw, md); derr == nil {
				layout.Connections = append(layout.Connections, conn)
			}
		case "TEXT", "MTEXT":
			var ent models.Entity
			if ent, derr = decodeText(&raw); derr == nil {
				derr = addEntity(ent)
			}
		default:
			report.Ignored++
			continue
		}

		if derr != nil {
			msg := fmt.Sprintf("%s %s: %v", raw.kind, raw.handle(), derr)
			report.Skipped = append(report.Skipped, msg)
			logger.Warn("skipping primitive", "kind", raw.kind, "handle", raw.handle(), "error", derr)
		}
	}

	layout.RecomputeBounds()

	report.DroppedConnections = layout.PruneDanglingConnections()
	for _, id := range report.DroppedConnections {
		logger.Warn("dropping connection with unknown endpoint", "connection", id)
	}

	logger.Info("drafting file decoded",
		"entities", len(layout.Entities),
		"connections", len(layout.Connections),
		"skipped", len(report.Skipped),
		"floor_width", layout.Width,
		"floor_height", layout.Height)

	return layout, report, nil
}

// entitiesSection splits the ENTITIES section into primitives. Other
// sections are skipped.
func entitiesSection(pairs []pair) []rawEntity {
	var out []rawEntity
	inEntities := false
	var cur *rawEntity

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for i := 0; i < len(pairs); i++ {
		p := pairs[i]
		if p.code == 0 {
			v := strings.TrimSpace(p.value)
			switch {
			case v == "SECTION":
				flush()
				inEntities = i+1 < len(pairs) && pairs[i+1].code == 2 &&
					strings.TrimSpace(pairs[i+1].value) == "ENTITIES"
				continue
			case v == "ENDSEC" || v == "EOF":
				flush()
				inEntities = false
				continue
			}
			if inEntities {
				flush()
				cur = &rawEntity{kind: v}
			}
			continue
		}
		if cur != nil {
			cur.groups = append(cur.groups, p)
		}
	}
	flush()
	return out
}

func decodeInsert(raw *rawEntity) (models.Entity, error) {
	pos, err := raw.point(10)
	if err != nil {
		return models.Entity{}, err
	}
	rotation, err := raw.float(50, 0)
	if err != nil {
		return models.Entity{}, err
	}

	md := raw.metadata()
	blockName, _ := raw.str(2)
	fallback := strings.TrimPrefix(strings.TrimSpace(blockName), BlockPrefix)

	ent := models.Entity{
		Kind:       models.EntityMachine,
		Position:   pos,
		Rotation:   rotation,
		Dimensions: models.Dimensions{Length: models.DefaultDimension, Width: models.DefaultDimension},
	}

	switch id, ok := md.get(KeyID); {
	case ok:
		ent.ID = id
	case raw.handle() != "":
		ent.ID = raw.handle()
	default:
		ent.ID = fallback
	}
	if ent.ID == "" {
		return models.Entity{}, errors.New("block instance has no id, handle or block name")
	}

	if name, ok := md.get(KeyName); ok {
		ent.Name = name
	} else if fallback != "" {
		ent.Name = fallback
	} else {
		ent.Name = ent.ID
	}

	if v, ok := md.get(KeyLength); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			ent.Dimensions.Length = f
		}
	}
	if v, ok := md.get(KeyWidth); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			ent.Dimensions.Width = f
		}
	}
	ent.Dimensions = ent.Dimensions.OrDefault()

	if v, ok := md.get(KeyKind); ok {
		if kind, err := models.ParseEntityKind(v); err == nil {
			ent.Kind = kind
		}
	}

	return ent, nil
}

func decodeConnection(raw *rawEntity, md metadata) (models.Connection, error) {
	elevation, err := raw.float(38, 0)
	if err != nil {
		return models.Connection{}, err
	}
	pts, err := raw.vertices(elevation)
	if err != nil {
		return models.Connection{}, err
	}
	if len(pts) < 2 {
		return models.Connection{}, fmt.Errorf("connection has %d vertices, need at least 2", len(pts))
	}

	id, ok := md.get(KeyID)
	if !ok {
		id = raw.handle()
	}
	if id == "" {
		id = uuid.NewString()
	}

	return models.NewConnection(id, md[KeyFrom], md[KeyTo], md[KeyConnType], pts), nil
}

// decodeText turns free text into a PORT when it mentions IN or OUT, and a
// TEXT entity otherwise.
func decodeText(raw *rawEntity) (models.Entity, error) {
	pos, err := raw.point(10)
	if err != nil {
		return models.Entity{}, err
	}

	var text string
	if raw.kind == "MTEXT" {
		var b strings.Builder
		for _, p := range raw.groups {
			if p.code == 3 || p.code == 1 {
				b.WriteString(p.value)
			}
		}
		text = b.String()
	} else {
		text, _ = raw.str(1)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Entity{}, errors.New("text primitive is empty")
	}

	id := raw.handle()
	if id == "" {
		id = uuid.NewString()
	}

	kind := models.EntityText
	if strings.Contains(text, "IN") || strings.Contains(text, "OUT") {
		kind = models.EntityPort
	}

	return models.Entity{
		ID:         id,
		Name:       text,
		Kind:       kind,
		Position:   pos,
		Dimensions: models.Dimensions{}.OrDefault(),
	}, nil
}
