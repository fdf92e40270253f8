// Package parser loads layouts from the formats the builder accepts: DXF
// drafting files, semantic manifests (YAML or JSON) and msgpack layout
// snapshots. A Registry picks the parser for a file.
package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/factory-twin/backend/internal/models"
)

// Parser defines the interface for layout sources.
type Parser interface {
	// Name returns the unique name of the parser.
	Name() string
	// CanParse returns true if this parser can handle the given file.
	CanParse(filePath string) (bool, error)
	// Parse reads the file into a layout. Warnings describe items that
	// were skipped or repaired.
	Parse(ctx context.Context, filePath string) (*models.Layout, []string, error)
}

func hasExt(filePath string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// sniff returns up to n leading bytes of the file.
func sniff(filePath string, n int) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read == 0 && err != nil {
		return nil, err
	}
	return buf[:read], nil
}
