package dxf

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factory-twin/backend/internal/models"
)

func sampleLayout() *models.Layout {
	l := &models.Layout{
		SourceRef: "sample",
		Entities: []models.Entity{
			{ID: "m1", Name: "Hydraulic Press", Kind: models.EntityMachine, Position: models.V3(5000, 5000, 0), Rotation: 90, Dimensions: models.Dimensions{Length: 2000, Width: 1000}},
			{ID: "m2", Name: "Glass Washer #2", Kind: models.EntityMachine, Position: models.V3(12000, 3000, 0), Rotation: 37.25, Dimensions: models.Dimensions{Length: 12000, Width: 3500}},
			{ID: "p1", Name: "IN dock", Kind: models.EntityPort, Position: models.V3(0, 0, 0), Dimensions: models.Dimensions{}.OrDefault()},
		},
		Connections: []models.Connection{
			models.NewConnection("c1", "m1", "m2", "conveyor", []models.Vector3{
				models.V3(5000, 5000, 0), models.V3(8000, 5000, 0), models.V3(8000, 3000, 0), models.V3(12000, 3000, 0),
			}),
			models.NewConnection("c2", "p1", "m1", "pump_line", []models.Vector3{
				models.V3(0, 0, 0), models.V3(5000, 5000, 0),
			}),
		},
	}
	l.RecomputeBounds()
	return l
}

func roundTrip(t *testing.T, in *models.Layout) (*models.Layout, *Report) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	out, report, err := Decode(context.Background(), &buf, "mem")
	require.NoError(t, err)
	return out, report
}

func TestRoundTrip_SingleEntity(t *testing.T) {
	in := &models.Layout{Entities: []models.Entity{{
		ID: "m1", Name: "m1", Kind: models.EntityMachine,
		Position:   models.V3(5000, 5000, 0),
		Rotation:   90,
		Dimensions: models.Dimensions{Length: 2000, Width: 1000},
	}}}
	in.RecomputeBounds()

	out, report := roundTrip(t, in)
	require.Len(t, out.Entities, 1)
	assert.Empty(t, report.Skipped)

	got := out.Entities[0]
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "m1", got.Name)
	assert.Equal(t, models.EntityMachine, got.Kind)
	assert.Equal(t, 90.0, got.Rotation)
	assert.Equal(t, models.Dimensions{Length: 2000, Width: 1000}, got.Dimensions)
	assert.InDelta(t, 5000, got.Position.X, 1e-9)
	assert.InDelta(t, 5000, got.Position.Y, 1e-9)
}

func TestRoundTrip_FullLayout(t *testing.T) {
	in := sampleLayout()
	out, report := roundTrip(t, in)

	assert.Empty(t, report.Skipped)
	assert.Empty(t, report.DroppedConnections)
	require.Len(t, out.Entities, len(in.Entities))
	for i, want := range in.Entities {
		got := out.Entities[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Rotation, got.Rotation, "rotation must not be snapped")
		assert.Equal(t, want.Dimensions, got.Dimensions)
		assert.InDelta(t, want.Position.X, got.Position.X, 1e-9)
		assert.InDelta(t, want.Position.Y, got.Position.Y, 1e-9)
	}

	require.Len(t, out.Connections, len(in.Connections))
	for i, want := range in.Connections {
		got := out.Connections[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.FromID, got.FromID)
		assert.Equal(t, want.ToID, got.ToID)
		assert.Equal(t, want.Tag, got.Tag)
		assert.Equal(t, want.Class, got.Class)
		require.Len(t, got.Waypoints, len(want.Waypoints))
		for j := range want.Waypoints {
			assert.InDelta(t, want.Waypoints[j].X, got.Waypoints[j].X, 1e-9)
			assert.InDelta(t, want.Waypoints[j].Y, got.Waypoints[j].Y, 1e-9)
		}
	}

	assert.Equal(t, in.Width, out.Width)
	assert.Equal(t, in.Height, out.Height)
	assert.Equal(t, in.Center, out.Center)
}

func TestEncode_LayersAndBlocks(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleLayout()))
	doc := buf.String()

	for _, want := range []string{
		"AC1024", "FACTORY_BOUNDS", "MACHINES_TEXT", "FLOW_PIPING", "FLOW_CONVEYOR",
		"BLK_m1", "TYPE:MACHINE_NODE", "TYPE:CONNECTION_EDGE", "CONN_TYPE:pump_line", "DASHED",
	} {
		assert.Contains(t, doc, want)
	}
	assert.True(t, strings.HasSuffix(strings.TrimSpace(doc), "EOF"))
}

// fixture builds a minimal ENTITIES-only DXF from raw group lines.
func fixture(groups ...string) string {
	var b strings.Builder
	b.WriteString("0\nSECTION\n2\nHEADER\n9\n$EXTMIN\n10\n-99999\n20\n-99999\n0\nENDSEC\n")
	b.WriteString("0\nSECTION\n2\nENTITIES\n")
	for _, g := range groups {
		b.WriteString(g)
		b.WriteString("\n")
	}
	b.WriteString("0\nENDSEC\n0\nEOF\n")
	return b.String()
}

func TestDecode_MetadataBeatsBlockName(t *testing.T) {
	src := fixture(
		"0", "INSERT", "5", "2A", "8", "MACHINES", "2", "BLK_old_name", "10", "100", "20", "200", "30", "0", "50", "45",
		"1001", AppName, "1000", "TYPE:MACHINE_NODE", "1000", "ID:mx", "1000", "NAME:New Name", "1000", "LENGTH:1500", "1000", "WIDTH:abc",
	)
	l, _, err := Decode(context.Background(), strings.NewReader(src), "fixture")
	require.NoError(t, err)
	require.Len(t, l.Entities, 1)

	e := l.Entities[0]
	assert.Equal(t, "mx", e.ID)
	assert.Equal(t, "New Name", e.Name)
	assert.Equal(t, 45.0, e.Rotation)
	assert.Equal(t, 1500.0, e.Dimensions.Length)
	assert.Equal(t, models.DefaultDimension, e.Dimensions.Width, "unparseable width keeps default")
}

func TestDecode_BlockNameFallback(t *testing.T) {
	src := fixture("0", "INSERT", "5", "3F", "2", "BLK_Mixer", "10", "1", "20", "2")
	l, _, err := Decode(context.Background(), strings.NewReader(src), "fixture")
	require.NoError(t, err)
	require.Len(t, l.Entities, 1)
	assert.Equal(t, "3F", l.Entities[0].ID, "handle is the id fallback")
	assert.Equal(t, "Mixer", l.Entities[0].Name)
	assert.Equal(t, models.Dimensions{Length: 2000, Width: 2000}, l.Entities[0].Dimensions)
}

func TestDecode_SkipsCorruptPrimitive(t *testing.T) {
	src := fixture(
		"0", "INSERT", "5", "A1", "2", "BLK_a", "10", "not-a-number", "20", "0",
		"0", "INSERT", "5", "A2", "2", "BLK_b", "10", "10", "20", "20",
		"0", "LWPOLYLINE", "5", "A3", "90", "1", "10", "0", "20", "0",
		"1001", AppName, "1000", "TYPE:CONNECTION_EDGE", "1000", "FROM:A2", "1000", "TO:A2",
	)
	l, report, err := Decode(context.Background(), strings.NewReader(src), "fixture")
	require.NoError(t, err)
	require.Len(t, l.Entities, 1)
	assert.Equal(t, "A2", l.Entities[0].ID)
	assert.Len(t, report.Skipped, 2)
	assert.Empty(t, l.Connections)
}

func TestDecode_IgnoresUnrelatedPrimitives(t *testing.T) {
	src := fixture(
		"0", "LINE", "5", "B1", "10", "0", "20", "0", "11", "5", "21", "5",
		"0", "LWPOLYLINE", "5", "B2", "8", "FACTORY_BOUNDS", "90", "2", "10", "0", "20", "0", "10", "9", "20", "9",
		"0", "CIRCLE", "5", "B3", "10", "0", "20", "0", "40", "5",
	)
	l, report, err := Decode(context.Background(), strings.NewReader(src), "fixture")
	require.NoError(t, err)
	assert.Empty(t, l.Entities)
	assert.Empty(t, l.Connections)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 3, report.Ignored)
}

func TestDecode_RecomputesBoundsIgnoringStoredExtents(t *testing.T) {
	src := fixture(
		"0", "LWPOLYLINE", "8", "FACTORY_BOUNDS", "90", "2", "10", "-1e6", "20", "-1e6", "10", "1e6", "20", "1e6",
		"0", "INSERT", "5", "C1", "2", "BLK_a", "10", "1000", "20", "1000",
		"0", "INSERT", "5", "C2", "2", "BLK_b", "10", "7000", "20", "4000",
	)
	l, _, err := Decode(context.Background(), strings.NewReader(src), "fixture")
	require.NoError(t, err)
	assert.Equal(t, 6000.0, l.Width)
	assert.Equal(t, 3000.0, l.Height)
	assert.Equal(t, models.V3(4000, 2500, 0), l.Center)
}

func TestDecode_DropsDanglingConnection(t *testing.T) {
	in := sampleLayout()
	in.Connections = append(in.Connections, models.NewConnection("c3", "m1", "ghost", "pipe", []models.Vector3{
		models.V3(0, 0, 0), models.V3(1, 1, 0),
	}))

	out, report := roundTrip(t, in)
	assert.Equal(t, []string{"c3"}, report.DroppedConnections)
	assert.Len(t, out.Connections, 2)
	assert.Len(t, out.Entities, 3)
}

func TestDecode_TextBecomesPortOrLabel(t *testing.T) {
	src := fixture(
		"0", "TEXT", "5", "D1", "10", "50", "20", "60", "1", "OUT-1",
		"0", "MTEXT", "5", "D2", "10", "0", "20", "0", "3", "Assembly ", "1", "Hall",
	)
	l, _, err := Decode(context.Background(), strings.NewReader(src), "fixture")
	require.NoError(t, err)
	require.Len(t, l.Entities, 2)
	assert.Equal(t, models.EntityPort, l.Entities[0].Kind)
	assert.Equal(t, "OUT-1", l.Entities[0].Name)
	assert.Equal(t, models.EntityText, l.Entities[1].Kind)
	assert.Equal(t, "Assembly Hall", l.Entities[1].Name)
}

func TestDecode_DuplicateIDsAreReported(t *testing.T) {
	src := fixture(
		"0", "INSERT", "5", "E1", "2", "BLK_a", "10", "0", "20", "0",
		"0", "INSERT", "5", "E2", "2", "BLK_b", "10", "10", "20", "0",
		"1001", AppName, "1000", "ID:E1",
		"0", "TEXT", "5", "E1", "10", "50", "20", "60", "1", "IN-1",
		"0", "MTEXT", "5", "E3", "10", "0", "20", "0", "1", "Hall",
	)
	l, report, err := Decode(context.Background(), strings.NewReader(src), "fixture")
	require.NoError(t, err)

	var ids []string
	for _, e := range l.Entities {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"E1", "E3"}, ids)
	require.Len(t, report.Skipped, 2)
	assert.Contains(t, report.Skipped[0], "INSERT E2")
	assert.Contains(t, report.Skipped[1], "TEXT E1")
	assert.Contains(t, report.Skipped[1], `duplicate entity id "E1"`)
}

func TestEncode_GenericConnectionOnConveyorLayer(t *testing.T) {
	in := sampleLayout()
	in.Connections = []models.Connection{
		models.NewConnection("c9", "m1", "m2", "cable", []models.Vector3{
			models.V3(5000, 5000, 0), models.V3(12000, 3000, 0),
		}),
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	doc := buf.String()
	assert.NotContains(t, doc, "FLOW_GENERIC")
	assert.Equal(t, 1, strings.Count(doc, "  2\nFLOW_CONVEYOR\n"), "one layer table entry")
	assert.Contains(t, doc, "  8\nFLOW_CONVEYOR\n")

	out, report := roundTrip(t, in)
	assert.Empty(t, report.Skipped)
	require.Len(t, out.Connections, 1)
	assert.Equal(t, models.ClassGeneric, out.Connections[0].Class)
	assert.Equal(t, "cable", out.Connections[0].Tag)
}

func TestDecode_UnreadableIsFatal(t *testing.T) {
	_, _, err := Decode(context.Background(), strings.NewReader("0\nSECTION\nbogus\n"), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)

	_, _, err = ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing.dxf"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dxf", "plant.dxf")
	require.NoError(t, WriteFile(context.Background(), path, sampleLayout()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")

	l, _, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, l.Entities, 3)
}

func TestBlockName(t *testing.T) {
	assert.Equal(t, "BLK_m1", BlockName("m1"))
	assert.Equal(t, "BLK_a_b_c", BlockName("a/b:c"))
}
