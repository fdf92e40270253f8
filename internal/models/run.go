package models

import "time"

// RunStatus represents the phase a pipeline run is in.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusDecoding   RunStatus = "decoding"
	RunStatusResolving  RunStatus = "resolving"
	RunStatusAssembling RunStatus = "assembling"
	RunStatusComplete   RunStatus = "complete"
	RunStatusError      RunStatus = "error"
)

// Terminal reports whether no further transitions will happen.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusError
}

// AssetStatus is the final state of resolving one entity's mesh.
type AssetStatus string

const (
	AssetCached    AssetStatus = "cached"
	AssetGenerated AssetStatus = "generated"
	AssetNoImage   AssetStatus = "no_image"
	AssetRejected  AssetStatus = "rejected"
	AssetExhausted AssetStatus = "exhausted"
	AssetTimeout   AssetStatus = "timeout"
	AssetFailed    AssetStatus = "failed"
)

// Degraded reports whether the entity ends up without a mesh.
func (s AssetStatus) Degraded() bool {
	return s != AssetCached && s != AssetGenerated
}

// AssetOutcome records how one entity's mesh was resolved.
type AssetOutcome struct {
	EntityID string      `json:"entityId"`
	Slug     string      `json:"slug"`
	Status   AssetStatus `json:"status"`
	Attempts int         `json:"attempts"`
	MeshPath string      `json:"meshPath,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// PipelineRun is the externally visible state of one pipeline execution.
type PipelineRun struct {
	ID          string         `json:"id"`
	Project     string         `json:"project"`
	Status      RunStatus      `json:"status"`
	Progress    float64        `json:"progress"` // 0-100
	Stage       string         `json:"stage,omitempty"`
	EntityCount int            `json:"entityCount,omitempty"`
	ScenePath   string         `json:"scenePath,omitempty"`
	PublishedTo string         `json:"publishedTo,omitempty"`
	Outcomes    []AssetOutcome `json:"outcomes,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// NewPipelineRun creates a run in pending status.
func NewPipelineRun(id, project string) *PipelineRun {
	return &PipelineRun{
		ID:        id,
		Project:   project,
		Status:    RunStatusPending,
		StartedAt: time.Now(),
	}
}
