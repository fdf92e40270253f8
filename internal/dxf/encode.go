package dxf

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/models"
)

// Fixed layers. Connection layers come from the connection class table.
const (
	LayerBounds      = "FACTORY_BOUNDS"
	LayerMachines    = "MACHINES"
	LayerMachineText = "MACHINES_TEXT"
	LayerAnnotations = "ANNOTATIONS"
)

// BlockPrefix prefixes every per-entity block definition name.
const BlockPrefix = "BLK_"

const (
	nameTextHeight = 200.0
	idTextHeight   = 100.0
)

type layerDef struct {
	name  string
	color int
}

func layerTable() []layerDef {
	layers := []layerDef{
		{"0", 7},
		{LayerBounds, 7},
		{LayerMachines, 4},
		{LayerMachineText, 2},
	}
	for _, s := range models.DraftingLayers() {
		layers = append(layers, layerDef{s.Layer, s.ACIColor})
	}
	return append(layers, layerDef{LayerAnnotations, 7})
}

// BlockName returns the block definition name for an entity id. Characters
// that drafting tools reject in symbol names are replaced with '_'.
func BlockName(id string) string {
	return BlockPrefix + strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>/\":;?*|,=`+"`", r) || r < ' ' {
			return '_'
		}
		return r
	}, id)
}

// Encode writes the layout as an ASCII DXF (R2010) document.
func Encode(w io.Writer, layout *models.Layout) error {
	g := newGroupWriter(w)
	floor := layout.FloorRect()
	corners := floor.Corners()

	writeHeader(g, corners)
	writeTables(g)
	writeBlocks(g, layout.Entities)

	g.str(0, "SECTION")
	g.str(2, "ENTITIES")
	writeBounds(g, corners)
	for i := range layout.Entities {
		writeInsert(g, &layout.Entities[i])
	}
	for i := range layout.Connections {
		writeConnection(g, &layout.Connections[i])
	}
	g.str(0, "ENDSEC")
	g.str(0, "EOF")

	return g.flush()
}

// WriteFile encodes the layout to path. The file is written to a temporary
// sibling first and renamed into place once complete.
func WriteFile(ctx context.Context, path string, layout *models.Layout) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating drafting directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dxf-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, layout); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding drafting file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("moving drafting file into place: %w", err)
	}

	ctxlog.FromContext(ctx).Info("drafting file written",
		"path", path,
		"entities", len(layout.Entities),
		"connections", len(layout.Connections))
	return nil
}

func writeHeader(g *groupWriter, corners [4]models.Vector3) {
	g.str(0, "SECTION")
	g.str(2, "HEADER")
	g.str(9, "$ACADVER")
	g.str(1, "AC1024")
	g.str(9, "$INSUNITS")
	g.int(70, 4) // millimetres
	g.str(9, "$EXTMIN")
	g.point(10, corners[0].X, corners[0].Y, 0)
	g.str(9, "$EXTMAX")
	g.point(10, corners[2].X, corners[2].Y, 0)
	g.str(0, "ENDSEC")
}

func writeTables(g *groupWriter) {
	g.str(0, "SECTION")
	g.str(2, "TABLES")

	g.str(0, "TABLE")
	g.str(2, "LTYPE")
	g.str(5, g.nextHandle())
	g.int(70, 2)
	writeLinetype(g, "CONTINUOUS", "Solid line", nil)
	writeLinetype(g, "DASHED", "Dashed __ __ __", []float64{10, -5})
	g.str(0, "ENDTAB")

	layers := layerTable()
	g.str(0, "TABLE")
	g.str(2, "LAYER")
	g.str(5, g.nextHandle())
	g.int(70, len(layers))
	for _, l := range layers {
		g.str(0, "LAYER")
		g.str(5, g.nextHandle())
		g.str(100, "AcDbSymbolTableRecord")
		g.str(100, "AcDbLayerTableRecord")
		g.str(2, l.name)
		g.int(70, 0)
		g.int(62, l.color)
		g.str(6, "CONTINUOUS")
	}
	g.str(0, "ENDTAB")

	g.str(0, "TABLE")
	g.str(2, "APPID")
	g.str(5, g.nextHandle())
	g.int(70, 1)
	g.str(0, "APPID")
	g.str(5, g.nextHandle())
	g.str(100, "AcDbSymbolTableRecord")
	g.str(100, "AcDbRegAppTableRecord")
	g.str(2, AppName)
	g.int(70, 0)
	g.str(0, "ENDTAB")

	g.str(0, "ENDSEC")
}

func writeLinetype(g *groupWriter, name, desc string, pattern []float64) {
	var total float64
	for _, p := range pattern {
		if p < 0 {
			total -= p
		} else {
			total += p
		}
	}
	g.str(0, "LTYPE")
	g.str(5, g.nextHandle())
	g.str(100, "AcDbSymbolTableRecord")
	g.str(100, "AcDbLinetypeTableRecord")
	g.str(2, name)
	g.int(70, 0)
	g.str(3, desc)
	g.int(72, 65)
	g.int(73, len(pattern))
	g.float(40, total)
	for _, p := range pattern {
		g.float(49, p)
		g.int(74, 0)
	}
}

// writeBlocks emits one definition per entity: footprint rectangle, a front
// marker along local +X and NAME/ID attribute definitions.
func writeBlocks(g *groupWriter, entities []models.Entity) {
	g.str(0, "SECTION")
	g.str(2, "BLOCKS")

	written := make(map[string]struct{}, len(entities))
	for i := range entities {
		e := &entities[i]
		name := BlockName(e.ID)
		if _, ok := written[name]; ok {
			continue
		}
		written[name] = struct{}{}

		d := e.Dimensions.OrDefault()
		hl, hw := d.Length/2, d.Width/2

		g.entity("BLOCK", "0")
		g.str(100, "AcDbBlockBegin")
		g.str(2, name)
		g.int(70, 2) // has attribute definitions
		g.point(10, 0, 0, 0)
		g.str(3, name)

		writePolyline(g, LayerMachines, "", true, 0, []models.Vector3{
			models.V3(-hl, -hw, 0), models.V3(hl, -hw, 0), models.V3(hl, hw, 0), models.V3(-hl, hw, 0),
		})
		writePolyline(g, LayerMachines, "", false, 0, []models.Vector3{
			models.V3(0, 0, 0), models.V3(hl, 0, 0),
		})
		writeAttdef(g, "NAME", e.Name, nameTextHeight)
		writeAttdef(g, "ID", e.ID, idTextHeight)

		g.entity("ENDBLK", "0")
		g.str(100, "AcDbBlockEnd")
	}

	g.str(0, "ENDSEC")
}

func writeAttdef(g *groupWriter, tag, def string, height float64) {
	g.entity("ATTDEF", LayerMachineText)
	g.str(100, "AcDbText")
	g.point(10, 0, 0, 0)
	g.float(40, height)
	g.str(1, sanitizeText(def))
	g.str(100, "AcDbAttributeDefinition")
	g.str(3, tag)
	g.str(2, tag)
	g.int(70, 0)
}

func writeBounds(g *groupWriter, corners [4]models.Vector3) {
	writePolyline(g, LayerBounds, "", true, 0, corners[:])
}

// writeInsert instantiates the entity's block and attaches its metadata.
func writeInsert(g *groupWriter, e *models.Entity) {
	d := e.Dimensions.OrDefault()
	kind := e.Kind
	if kind == "" {
		kind = models.EntityMachine
	}

	g.entity("INSERT", LayerMachines)
	g.str(100, "AcDbBlockReference")
	g.int(66, 1) // attributes follow
	g.str(2, BlockName(e.ID))
	g.point(10, e.Position.X, e.Position.Y, e.Position.Z)
	g.float(50, e.Rotation)
	g.xdata(
		field{KeyType, TypeMachineNode},
		field{KeyID, e.ID},
		field{KeyName, e.Name},
		field{KeyLength, formatFloat(d.Length)},
		field{KeyWidth, formatFloat(d.Width)},
		field{KeyKind, string(kind)},
	)

	writeAttrib(g, e, "NAME", e.Name, nameTextHeight)
	writeAttrib(g, e, "ID", e.ID, idTextHeight)
	g.entity("SEQEND", LayerMachines)
}

func writeAttrib(g *groupWriter, e *models.Entity, tag, value string, height float64) {
	g.entity("ATTRIB", LayerMachineText)
	g.str(100, "AcDbText")
	g.point(10, e.Position.X, e.Position.Y, e.Position.Z)
	g.float(40, height)
	g.str(1, sanitizeText(value))
	g.float(50, e.Rotation)
	g.str(100, "AcDbAttribute")
	g.str(2, tag)
	g.int(70, 0)
}

func writeConnection(g *groupWriter, c *models.Connection) {
	style := c.Class.Style()
	var elevation float64
	if len(c.Waypoints) > 0 {
		elevation = c.Waypoints[0].Z
	}
	writePolyline(g, style.Layer, style.Linetype, false, elevation, c.Waypoints)
	g.xdata(
		field{KeyType, TypeConnectionEdge},
		field{KeyID, c.ID},
		field{KeyFrom, c.FromID},
		field{KeyTo, c.ToID},
		field{KeyConnType, c.Tag},
	)
}

func writePolyline(g *groupWriter, layer, linetype string, closed bool, elevation float64, pts []models.Vector3) {
	g.entity("LWPOLYLINE", layer)
	if linetype != "" {
		g.str(6, linetype)
	}
	g.str(100, "AcDbPolyline")
	g.int(90, len(pts))
	flags := 0
	if closed {
		flags = 1
	}
	g.int(70, flags)
	if elevation != 0 {
		g.float(38, elevation)
	}
	for _, p := range pts {
		g.float(10, p.X)
		g.float(20, p.Y)
	}
}
