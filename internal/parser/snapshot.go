package parser

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/factory-twin/backend/internal/models"
)

// SnapshotParser reads msgpack layout snapshots as served by the layout
// endpoint, so a downloaded layout can be rebuilt offline.
type SnapshotParser struct{}

func NewSnapshotParser() *SnapshotParser { return &SnapshotParser{} }

func (p *SnapshotParser) Name() string { return "snapshot" }

func (p *SnapshotParser) CanParse(filePath string) (bool, error) {
	return hasExt(filePath, ".msgpack", ".mpk"), nil
}

func (p *SnapshotParser) Parse(ctx context.Context, filePath string) (*models.Layout, []string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	layout, err := ReadSnapshot(f)
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	for _, id := range layout.PruneDanglingConnections() {
		warnings = append(warnings, fmt.Sprintf("connection %s: unknown endpoint", id))
	}
	return layout, warnings, nil
}

// WriteSnapshot encodes a layout as msgpack.
func WriteSnapshot(w io.Writer, l *models.Layout) error {
	if err := msgpack.NewEncoder(w).Encode(l); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a msgpack layout and validates it.
func ReadSnapshot(r io.Reader) (*models.Layout, error) {
	var l models.Layout
	if err := msgpack.NewDecoder(r).Decode(&l); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}
