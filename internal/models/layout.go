package models

import (
	"errors"
	"fmt"
	"math"
)

// DefaultFloorExtent is used when entity positions span no area.
const DefaultFloorExtent = 10000.0

// Layout is the aggregate root: floor bounds plus ordered entities and
// connections.
type Layout struct {
	SourceRef   string       `json:"sourceRef" msgpack:"sourceRef"`
	Width       float64      `json:"width" msgpack:"width"`
	Height      float64      `json:"height" msgpack:"height"`
	Center      Vector3      `json:"center" msgpack:"center"`
	Entities    []Entity     `json:"entities" msgpack:"entities"`
	Connections []Connection `json:"connections" msgpack:"connections"`
}

// Entity returns a pointer to the entity with the given id.
func (l *Layout) Entity(id string) (*Entity, bool) {
	for i := range l.Entities {
		if l.Entities[i].ID == id {
			return &l.Entities[i], true
		}
	}
	return nil, false
}

// Machines returns the indices of MACHINE entities.
func (l *Layout) Machines() []int {
	var idx []int
	for i := range l.Entities {
		if l.Entities[i].Kind == EntityMachine {
			idx = append(idx, i)
		}
	}
	return idx
}

// Validate checks structure: unique non-empty entity ids and
// connections with at least two waypoints.
func (l *Layout) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(l.Entities))
	for _, e := range l.Entities {
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("entity %q has empty id", e.Name))
			continue
		}
		if _, dup := seen[e.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate entity id %q", e.ID))
		}
		seen[e.ID] = struct{}{}
	}
	for _, c := range l.Connections {
		if len(c.Waypoints) < 2 {
			errs = append(errs, fmt.Errorf("connection %q has %d waypoints", c.ID, len(c.Waypoints)))
		}
	}
	return errors.Join(errs...)
}

// RecomputeBounds derives width, height and center from the min/max of the
// entity positions. Degenerate spans fall back to DefaultFloorExtent.
func (l *Layout) RecomputeBounds() {
	if len(l.Entities) == 0 {
		l.Width, l.Height = DefaultFloorExtent, DefaultFloorExtent
		l.Center = Vector3{}
		return
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, e := range l.Entities {
		minX = math.Min(minX, e.Position.X)
		minY = math.Min(minY, e.Position.Y)
		maxX = math.Max(maxX, e.Position.X)
		maxY = math.Max(maxY, e.Position.Y)
	}

	l.Width = maxX - minX
	l.Height = maxY - minY
	if l.Width <= 0 {
		l.Width = DefaultFloorExtent
	}
	if l.Height <= 0 {
		l.Height = DefaultFloorExtent
	}
	l.Center = Vector3{X: (minX + maxX) / 2, Y: (minY + maxY) / 2}
}

// FloorRect returns the floor extents as a rectangle.
func (l *Layout) FloorRect() Rect {
	return Rect{Center: l.Center, Length: l.Width, Width: l.Height}
}

// PruneDanglingConnections removes connections whose endpoints are not
// entities of the layout and returns the ids of the dropped connections.
func (l *Layout) PruneDanglingConnections() []string {
	ids := make(map[string]struct{}, len(l.Entities))
	for _, e := range l.Entities {
		ids[e.ID] = struct{}{}
	}

	var dropped []string
	kept := l.Connections[:0]
	for _, c := range l.Connections {
		_, okFrom := ids[c.FromID]
		_, okTo := ids[c.ToID]
		if okFrom && okTo {
			kept = append(kept, c)
			continue
		}
		dropped = append(dropped, c.ID)
	}
	l.Connections = kept
	return dropped
}
