package parser

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factory-twin/backend/internal/dxf"
	"github.com/factory-twin/backend/internal/models"
)

const manifestYAML = `
project: plant_a
room_width: 20000
room_height: 10000
machines:
  - id: m1
    name: Press
    length: 3000
    width: 1500
    x: 2000
    y: 2000
    rotation: 90
    image: press.png
  - id: m2
    name: Lathe
    x: 8000
    y: 2000
  - id: p1
    name: Inlet
    kind: PORT
    x: 0
    y: 2000
connections:
  - id: c1
    from: m1
    to: m2
    type: conveyor
    points: [[2000, 2000], [8000, 2000]]
  - from: p1
    to: m1
    type: pipe
  - id: c3
    from: m1
    to: ghost
    type: agv
    points: [[0, 0], [1, 1]]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestManifestToLayout(t *testing.T) {
	m, err := ParseManifestFromReader(strings.NewReader(manifestYAML))
	require.NoError(t, err)

	layout, warnings, err := ManifestToLayout(m)
	require.NoError(t, err)

	require.Len(t, layout.Entities, 3)
	press := layout.Entities[0]
	assert.Equal(t, models.EntityMachine, press.Kind)
	assert.Equal(t, 90.0, press.Rotation)
	assert.Equal(t, "press.png", press.ImageRef)
	assert.Equal(t, models.DefaultDimension, layout.Entities[1].Dimensions.Length)
	assert.Equal(t, models.EntityPort, layout.Entities[2].Kind)

	require.Len(t, layout.Connections, 2)
	assert.Equal(t, models.ClassTransport, layout.Connections[0].Class)
	assert.Equal(t, "conn_2", layout.Connections[1].ID)
	assert.Equal(t, models.ClassPiping, layout.Connections[1].Class)
	assert.Len(t, layout.Connections[1].Waypoints, 2)

	assert.Equal(t, 20000.0, layout.Width)
	assert.Equal(t, models.V3(10000, 5000, 0), layout.Center)
	assert.Len(t, warnings, 2)
}

func TestManifestToLayout_UnknownKind(t *testing.T) {
	m := &models.Manifest{Machines: []models.ManifestMachine{{ID: "x", Kind: "spaceship"}}}
	_, _, err := ManifestToLayout(m)
	assert.Error(t, err)
}

func TestManifestToLayout_DuplicateIDs(t *testing.T) {
	m := &models.Manifest{Machines: []models.ManifestMachine{{ID: "x"}, {ID: "x"}}}
	_, _, err := ManifestToLayout(m)
	assert.Error(t, err)
}

func TestManifestJSON(t *testing.T) {
	path := writeFile(t, "layout_contract.json", `{"project":"p","machines":[{"id":"a","name":"A","x":0,"y":0},{"id":"b","name":"B","x":100,"y":50}]}`)

	p, err := GetGlobalRegistry().FindParser(path)
	require.NoError(t, err)
	assert.Equal(t, "manifest", p.Name())

	layout, _, err := p.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, layout.Entities, 2)
	assert.Equal(t, 100.0, layout.Width)
	assert.Equal(t, path, layout.SourceRef)
}

func TestLayoutToManifest_RoundTrip(t *testing.T) {
	m, err := ParseManifestFromReader(strings.NewReader(manifestYAML))
	require.NoError(t, err)
	layout, _, err := ManifestToLayout(m)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, LayoutToManifest("plant_a", layout)))

	again, err := ParseManifestFromReader(&buf)
	require.NoError(t, err)
	back, _, err := ManifestToLayout(again)
	require.NoError(t, err)
	assert.Equal(t, layout.Entities, back.Entities)
	assert.Equal(t, layout.Connections, back.Connections)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m, err := ParseManifestFromReader(strings.NewReader(manifestYAML))
	require.NoError(t, err)
	layout, _, err := ManifestToLayout(m)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "layout.msgpack")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteSnapshot(f, layout))
	require.NoError(t, f.Close())

	p, err := GetGlobalRegistry().FindParser(path)
	require.NoError(t, err)
	got, warnings, err := p.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, layout.Entities, got.Entities)
	assert.Equal(t, layout.Connections, got.Connections)
}

func TestRegistry_DetectsDXFWithoutExtension(t *testing.T) {
	layout := &models.Layout{Entities: []models.Entity{{ID: "m1", Name: "Press", Kind: models.EntityMachine}}}
	layout.RecomputeBounds()
	path := filepath.Join(t.TempDir(), "drawing")
	require.NoError(t, dxf.WriteFile(context.Background(), path, layout))

	p, err := GetGlobalRegistry().FindParser(path)
	require.NoError(t, err)
	assert.Equal(t, "dxf", p.Name())

	got, _, err := p.Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "Press", got.Entities[0].Name)
}

func TestRegistry_Unknown(t *testing.T) {
	path := writeFile(t, "notes.txt", "hello")
	_, err := GetGlobalRegistry().FindParser(path)
	assert.ErrorIs(t, err, ErrNoParser)

	_, _, err = GetGlobalRegistry().Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoParser)

	_, err = GetGlobalRegistry().GetParserByName("DXF")
	assert.NoError(t, err)
	_, err = GetGlobalRegistry().GetParserByName("csv")
	assert.ErrorIs(t, err, ErrNoParser)
}
