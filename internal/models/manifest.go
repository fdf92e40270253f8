package models

// Manifest is the semantic layout document produced upstream and written
// next to the drafting file as part of the handover contract. It is read
// from YAML or JSON.
type Manifest struct {
	Project     string               `json:"project" yaml:"project"`
	RoomWidth   float64              `json:"room_width" yaml:"room_width"`
	RoomHeight  float64              `json:"room_height" yaml:"room_height"`
	Machines    []ManifestMachine    `json:"machines" yaml:"machines"`
	Connections []ManifestConnection `json:"connections" yaml:"connections"`
}

// ManifestMachine is one placed object in the manifest.
type ManifestMachine struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Kind     string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Length   float64 `json:"length" yaml:"length"`
	Width    float64 `json:"width" yaml:"width"`
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	Rotation float64 `json:"rotation" yaml:"rotation"`
	Image    string  `json:"image,omitempty" yaml:"image,omitempty"`
}

// ManifestConnection is a connection with 2D waypoints.
type ManifestConnection struct {
	ID     string       `json:"id,omitempty" yaml:"id,omitempty"`
	From   string       `json:"from" yaml:"from"`
	To     string       `json:"to" yaml:"to"`
	Type   string       `json:"type" yaml:"type"`
	Points [][2]float64 `json:"points" yaml:"points"`
}
