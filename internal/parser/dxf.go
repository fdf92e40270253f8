package parser

import (
	"bytes"
	"context"

	"github.com/factory-twin/backend/internal/dxf"
	"github.com/factory-twin/backend/internal/models"
)

// DXFParser reads drafting files written by the contract codec.
type DXFParser struct{}

func NewDXFParser() *DXFParser { return &DXFParser{} }

func (p *DXFParser) Name() string { return "dxf" }

func (p *DXFParser) CanParse(filePath string) (bool, error) {
	if hasExt(filePath, ".dxf") {
		return true, nil
	}
	head, err := sniff(filePath, 64)
	if err != nil {
		return false, err
	}
	// ASCII DXF starts with "  0\nSECTION"
	return bytes.Contains(head, []byte("SECTION")), nil
}

func (p *DXFParser) Parse(ctx context.Context, filePath string) (*models.Layout, []string, error) {
	layout, report, err := dxf.ReadFile(ctx, filePath)
	if err != nil {
		return nil, nil, err
	}
	return layout, report.Warnings(), nil
}
