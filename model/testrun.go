package model

import "time"

// TestRun records what happened to one Run Instance during a batch.
type TestRun struct {
	// Test name from the manifest
	Name string `json:"name"`
	// Run directory relative to the batch directory
	Dir string `json:"dir"`
	// Final state of the instance (e.g. "finished", "timed_out")
	State string `json:"state"`
	// Launch identifier (process group or queue job id)
	LaunchID string `json:"launch_id,omitempty"`
	// Time the simulation was launched
	StartedAt time.Time `json:"started_at,omitempty"`
	// Duration of the simulation
	Elapsed time.Duration `json:"elapsed,omitempty"`
	// Staging or launch error, if any
	Error string `json:"error,omitempty"`
	// Files of interest inside the run directory
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// ArtifactType identifies the type of artifact
type ArtifactType uint8

const (
	ArtifactTypeLaunchScript ArtifactType = iota
	ArtifactTypeLaunchLog
	ArtifactTypeRunTime
	ArtifactTypeCompletionMarker
)

// Artifact represents a file generated during execution
type Artifact struct {
	Type ArtifactType `json:"type"`
	Size uint64       `json:"size"`
	File string       `json:"file"` // relative to run dir
}
