package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/factory-twin/backend/internal/models"
)

// ErrNoParser is returned when no registered parser accepts a file.
var ErrNoParser = errors.New("no suitable parser")

// Registry picks a layout parser for a file. Parsers are tried in order,
// so the DXF parser wins over the manifest parser for ambiguous files.
type Registry struct {
	parsers []Parser
}

var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewDXFParser(),
			NewManifestParser(),
			NewSnapshotParser(),
		},
	}
}

// GetGlobalRegistry returns the shared registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// FindParser returns the first parser that accepts filePath. Detection
// errors from one parser do not stop the others from being tried.
func (r *Registry) FindParser(filePath string) (Parser, error) {
	var errs []error
	for _, p := range r.parsers {
		ok, err := p.CanParse(filePath)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if ok {
			return p, nil
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w for %s: %w", ErrNoParser, filePath, errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w for %s", ErrNoParser, filePath)
}

// GetParserByName looks a parser up case-insensitively.
func (r *Registry) GetParserByName(name string) (Parser, error) {
	for _, p := range r.parsers {
		if strings.EqualFold(p.Name(), name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w named %q", ErrNoParser, name)
}

// Load detects the format of filePath and parses it.
func (r *Registry) Load(ctx context.Context, filePath string) (*models.Layout, []string, error) {
	p, err := r.FindParser(filePath)
	if err != nil {
		return nil, nil, err
	}
	return p.Parse(ctx, filePath)
}
