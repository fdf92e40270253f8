package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/factory-twin/backend/internal/models"
)

// ManifestParser reads semantic manifests. JSON is a subset of YAML, so a
// single YAML decoder serves both.
type ManifestParser struct{}

func NewManifestParser() *ManifestParser { return &ManifestParser{} }

func (p *ManifestParser) Name() string { return "manifest" }

func (p *ManifestParser) CanParse(filePath string) (bool, error) {
	if hasExt(filePath, ".yaml", ".yml", ".json") {
		return true, nil
	}
	return false, nil
}

func (p *ManifestParser) Parse(ctx context.Context, filePath string) (*models.Layout, []string, error) {
	m, err := ParseManifest(filePath)
	if err != nil {
		return nil, nil, err
	}
	layout, warnings, err := ManifestToLayout(m)
	if err != nil {
		return nil, nil, err
	}
	layout.SourceRef = filePath
	return layout, warnings, nil
}

// ParseManifest parses a manifest file.
func ParseManifest(filePath string) (*models.Manifest, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseManifestFromReader(file)
}

// ParseManifestFromReader parses a manifest from an io.Reader.
func ParseManifestFromReader(r io.Reader) (*models.Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty manifest")
	}

	var m models.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// ManifestToLayout converts a manifest into a layout. Connections without
// enough points run straight between their endpoints; connections to
// unknown machines are dropped and reported.
func ManifestToLayout(m *models.Manifest) (*models.Layout, []string, error) {
	layout := &models.Layout{SourceRef: m.Project}
	var warnings []string

	for _, mm := range m.Machines {
		kind, err := models.ParseEntityKind(mm.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("machine %q: %w", mm.ID, err)
		}
		layout.Entities = append(layout.Entities, models.Entity{
			ID:         mm.ID,
			Name:       mm.Name,
			Kind:       kind,
			Position:   models.V3(mm.X, mm.Y, 0),
			Rotation:   mm.Rotation,
			Dimensions: models.Dimensions{Length: mm.Length, Width: mm.Width}.OrDefault(),
			ImageRef:   mm.Image,
		})
	}

	for i, mc := range m.Connections {
		id := mc.ID
		if id == "" {
			id = fmt.Sprintf("conn_%d", i+1)
		}
		wps := make([]models.Vector3, 0, len(mc.Points))
		for _, p := range mc.Points {
			wps = append(wps, models.V3(p[0], p[1], 0))
		}
		if len(wps) < 2 {
			from, okFrom := layout.Entity(mc.From)
			to, okTo := layout.Entity(mc.To)
			if !okFrom || !okTo {
				warnings = append(warnings, fmt.Sprintf("connection %s: unknown endpoint", id))
				continue
			}
			wps = []models.Vector3{from.Position, to.Position}
			warnings = append(warnings, fmt.Sprintf("connection %s: routed straight between endpoints", id))
		}
		layout.Connections = append(layout.Connections, models.NewConnection(id, mc.From, mc.To, mc.Type, wps))
	}

	if err := layout.Validate(); err != nil {
		return nil, nil, err
	}
	for _, id := range layout.PruneDanglingConnections() {
		warnings = append(warnings, fmt.Sprintf("connection %s: unknown endpoint", id))
	}

	if m.RoomWidth > 0 && m.RoomHeight > 0 {
		layout.Width, layout.Height = m.RoomWidth, m.RoomHeight
		layout.Center = models.V3(m.RoomWidth/2, m.RoomHeight/2, 0)
	} else {
		layout.RecomputeBounds()
	}
	return layout, warnings, nil
}

// LayoutToManifest is the inverse of ManifestToLayout. Waypoint heights
// are dropped.
func LayoutToManifest(project string, l *models.Layout) *models.Manifest {
	m := &models.Manifest{
		Project:    project,
		RoomWidth:  l.Width,
		RoomHeight: l.Height,
	}
	for _, e := range l.Entities {
		m.Machines = append(m.Machines, models.ManifestMachine{
			ID:       e.ID,
			Name:     e.Name,
			Kind:     string(e.Kind),
			Length:   e.Dimensions.Length,
			Width:    e.Dimensions.Width,
			X:        e.Position.X,
			Y:        e.Position.Y,
			Rotation: e.Rotation,
			Image:    e.ImageRef,
		})
	}
	for _, c := range l.Connections {
		mc := models.ManifestConnection{ID: c.ID, From: c.FromID, To: c.ToID, Type: c.Tag}
		for _, w := range c.Waypoints {
			mc.Points = append(mc.Points, [2]float64{w.X, w.Y})
		}
		m.Connections = append(m.Connections, mc)
	}
	return m
}

// WriteManifest writes m as YAML.
func WriteManifest(w io.Writer, m *models.Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return enc.Close()
}
