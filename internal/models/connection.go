package models

import (
	"encoding/json"
	"strings"
)

// ConnectionClass is the closed set of connector categories. A class is
// resolved once from the free-text tag and then drives drafting layer,
// linetype and 3D render style.
type ConnectionClass uint8

const (
	ClassGeneric ConnectionClass = iota
	ClassTransport
	ClassPiping
	ClassAGV
)

// ClassifyConnection resolves a free-text connection tag to its class.
func ClassifyConnection(tag string) ConnectionClass {
	t := strings.ToLower(tag)
	switch {
	case strings.Contains(t, "pipe"), strings.Contains(t, "pump"):
		return ClassPiping
	case strings.Contains(t, "agv"):
		return ClassAGV
	case strings.Contains(t, "conveyor"), strings.Contains(t, "belt"), strings.Contains(t, "transport"):
		return ClassTransport
	}
	return ClassGeneric
}

// ConnectionStyle bundles everything a class decides.
type ConnectionStyle struct {
	Layer     string
	ACIColor  int // drafting color index
	Linetype  string
	Radius    float64
	Elevation float64
	Color     [4]float64 // linear RGBA for the 3D scene
}

var connectionStyles = [...]ConnectionStyle{
	ClassGeneric: {
		Layer: "FLOW_CONVEYOR", ACIColor: 1, Linetype: "CONTINUOUS",
		Radius: 75, Elevation: 1000, Color: [4]float64{0.6, 0.6, 0.6, 1},
	},
	ClassTransport: {
		Layer: "FLOW_CONVEYOR", ACIColor: 1, Linetype: "CONTINUOUS",
		Radius: 250, Elevation: 800, Color: [4]float64{0.25, 0.25, 0.28, 1},
	},
	ClassPiping: {
		Layer: "FLOW_PIPING", ACIColor: 3, Linetype: "CONTINUOUS",
		Radius: 100, Elevation: 1500, Color: [4]float64{0.1, 0.45, 0.85, 1},
	},
	ClassAGV: {
		Layer: "FLOW_AGV", ACIColor: 6, Linetype: "DASHED",
		Radius: 40, Elevation: 40, Color: [4]float64{0.95, 0.8, 0.1, 1},
	},
}

var classNames = [...]string{
	ClassGeneric:   "generic",
	ClassTransport: "transport",
	ClassPiping:    "piping",
	ClassAGV:       "agv",
}

// Style returns the fixed style for the class.
func (c ConnectionClass) Style() ConnectionStyle {
	if int(c) >= len(connectionStyles) {
		return connectionStyles[ClassGeneric]
	}
	return connectionStyles[c]
}

func (c ConnectionClass) String() string {
	if int(c) >= len(classNames) {
		return classNames[ClassGeneric]
	}
	return classNames[c]
}

// MarshalJSON encodes the class by name.
func (c ConnectionClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a class name.
func (c *ConnectionClass) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for i, name := range classNames {
		if name == s {
			*c = ConnectionClass(i)
			return nil
		}
	}
	*c = ClassifyConnection(s)
	return nil
}

// DraftingLayers lists every distinct connection layer in class order.
// Generic connections share the conveyor layer.
func DraftingLayers() []ConnectionStyle {
	out := make([]ConnectionStyle, 0, len(connectionStyles))
	seen := make(map[string]bool, len(connectionStyles))
	for _, s := range connectionStyles {
		if seen[s.Layer] {
			continue
		}
		seen[s.Layer] = true
		out = append(out, s)
	}
	return out
}

// Connection is a directed link between two entities rendered as connector
// geometry along its waypoints.
type Connection struct {
	ID        string          `json:"id" msgpack:"id"`
	FromID    string          `json:"fromId" msgpack:"fromId"`
	ToID      string          `json:"toId" msgpack:"toId"`
	Tag       string          `json:"tag" msgpack:"tag"`
	Class     ConnectionClass `json:"class" msgpack:"class"`
	Waypoints []Vector3       `json:"waypoints" msgpack:"waypoints"`
}

// NewConnection builds a connection and resolves its class from the tag.
func NewConnection(id, from, to, tag string, waypoints []Vector3) Connection {
	return Connection{
		ID:        id,
		FromID:    from,
		ToID:      to,
		Tag:       tag,
		Class:     ClassifyConnection(tag),
		Waypoints: waypoints,
	}
}
