// Package dxf encodes and decodes factory layouts as DXF drafting files.
//
// Entities are written as block instances and connections as classified
// polylines. Identity and dimensions travel in an XDATA side-channel under
// the FACTORY_ARCHITECT application name so the layout graph survives tools
// that rewrite native geometry.
package dxf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// pair is one DXF group: an integer code and its raw value line.
type pair struct {
	code  int
	value string
}

// groupWriter emits ASCII group-code pairs and hands out entity handles.
// The first write error sticks and later writes become no-ops.
type groupWriter struct {
	w      *bufio.Writer
	err    error
	handle uint64
}

func newGroupWriter(w io.Writer) *groupWriter {
	return &groupWriter{w: bufio.NewWriter(w), handle: 0x100}
}

func (g *groupWriter) str(code int, value string) {
	if g.err != nil {
		return
	}
	_, g.err = fmt.Fprintf(g.w, "%3d\n%s\n", code, value)
}

func (g *groupWriter) float(code int, v float64) {
	g.str(code, formatFloat(v))
}

func (g *groupWriter) int(code int, v int) {
	g.str(code, strconv.Itoa(v))
}

// point writes an (x, y, z) triple starting at code (10, 11, ...).
func (g *groupWriter) point(code int, x, y, z float64) {
	g.float(code, x)
	g.float(code+10, y)
	g.float(code+20, z)
}

// entity starts a new primitive with a fresh handle.
func (g *groupWriter) entity(kind, layer string) string {
	h := g.nextHandle()
	g.str(0, kind)
	g.str(5, h)
	g.str(100, "AcDbEntity")
	g.str(8, layer)
	return h
}

func (g *groupWriter) nextHandle() string {
	g.handle++
	return strings.ToUpper(strconv.FormatUint(g.handle, 16))
}

func (g *groupWriter) flush() error {
	if g.err != nil {
		return g.err
	}
	return g.w.Flush()
}

// formatFloat writes the shortest decimal that parses back to the same
// float64, without exponent notation.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sanitizeText strips characters that would break the line-oriented format.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}

// readPairs scans every group pair of an ASCII DXF stream. Any structural
// problem (non-numeric code, dangling code line) means the file is
// unreadable as a whole.
func readPairs(r io.Reader) ([]pair, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pairs []pair
	line := 0
	for sc.Scan() {
		line++
		codeLine := strings.TrimSpace(sc.Text())
		if codeLine == "" {
			continue
		}
		code, err := strconv.Atoi(codeLine)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid group code %q", line, codeLine)
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("line %d: group code %d has no value", line, code)
		}
		line++
		pairs = append(pairs, pair{code: code, value: strings.TrimRight(sc.Text(), "\r")})
		if code == 0 && strings.TrimSpace(pairs[len(pairs)-1].value) == "EOF" {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning groups: %w", err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no group codes found")
	}
	return pairs, nil
}
