package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/dxf"
	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/parser"
)

// Encode writes the handover contract for a manifest: the drafting file and
// a normalized manifest next to it.
func Encode(ctx context.Context, project Project, m *models.Manifest) (*models.Layout, []string, error) {
	layout, warnings, err := parser.ManifestToLayout(m)
	if err != nil {
		return nil, nil, fmt.Errorf("convert manifest: %w", err)
	}
	layout.SourceRef = project.DXFPath()

	if err := dxf.WriteFile(ctx, project.DXFPath(), layout); err != nil {
		return nil, nil, err
	}
	if err := writeManifest(project.ManifestPath(), parser.LayoutToManifest(project.Name, layout)); err != nil {
		return nil, nil, err
	}

	ctxlog.FromContext(ctx).Info("handover contract written",
		"project", project.Name,
		"entities", len(layout.Entities),
		"connections", len(layout.Connections),
		"warnings", len(warnings))
	return layout, warnings, nil
}

func writeManifest(path string, m *models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize manifest: %w", err)
	}
	return nil
}
