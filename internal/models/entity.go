package models

import (
	"fmt"
	"strings"
)

// EntityKind classifies a placed object.
type EntityKind string

const (
	EntityMachine EntityKind = "MACHINE"
	EntityPort    EntityKind = "PORT"
	EntityText    EntityKind = "TEXT"
)

// ParseEntityKind maps a free-form kind string to an EntityKind.
// Unknown values are reported as an error.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MACHINE", "MACHINE_NODE":
		return EntityMachine, nil
	case "PORT":
		return EntityPort, nil
	case "TEXT", "LABEL":
		return EntityText, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// DefaultDimension is used for any missing or non-positive entity dimension.
const DefaultDimension = 2000.0

// Dimensions is an entity footprint in layout units.
type Dimensions struct {
	Length float64 `json:"length" msgpack:"length"`
	Width  float64 `json:"width" msgpack:"width"`
}

// OrDefault replaces non-positive values with DefaultDimension.
func (d Dimensions) OrDefault() Dimensions {
	if d.Length <= 0 {
		d.Length = DefaultDimension
	}
	if d.Width <= 0 {
		d.Width = DefaultDimension
	}
	return d
}

// Entity is a placed object in the layout.
type Entity struct {
	ID         string     `json:"id" msgpack:"id"`
	Name       string     `json:"name" msgpack:"name"`
	Kind       EntityKind `json:"kind" msgpack:"kind"`
	Position   Vector3    `json:"position" msgpack:"position"`
	Rotation   float64    `json:"rotation" msgpack:"rotation"` // degrees, unrestricted
	Dimensions Dimensions `json:"dimensions" msgpack:"dimensions"`

	// Filled in over the life of a pipeline run.
	ImageRef string `json:"imageRef,omitempty" msgpack:"imageRef,omitempty"`
	MeshRef  string `json:"meshRef,omitempty" msgpack:"meshRef,omitempty"`
}

// Slug is the filesystem and export-safe identifier for the entity.
// It is derived from the name, falling back to the id.
func (e *Entity) Slug() string {
	if strings.TrimSpace(e.Name) == "" {
		return Slug(e.ID)
	}
	return Slug(e.Name)
}

// Footprint returns the oriented rectangle the entity occupies.
func (e *Entity) Footprint() Rect {
	d := e.Dimensions.OrDefault()
	return Rect{Center: e.Position, Length: d.Length, Width: d.Width, Rotation: e.Rotation}
}
