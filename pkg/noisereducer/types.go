package noisereducer

import "github.com/himanishpuri/NoiseReducer/pkg/models"

// DenoiseRequest describes one clip to clean.
type DenoiseRequest struct {
	InputPath string         // Audio file on local disk
	InputName string         // Display name; artifact names derive from it. Defaults to the base of InputPath
	Backend   models.Backend // Empty means both
}

// BackendOutcome is the result of one backend. Artifact is set only on
// success.
type BackendOutcome struct {
	Artifact string
	Reason   string
	Err      error
}

func (o *BackendOutcome) OK() bool { return o != nil && o.Err == nil }

// DenoiseResult is returned even when every backend failed so callers can
// report the job.
type DenoiseResult struct {
	Job    *models.Job
	Custom *BackendOutcome // nil when not requested
	Demucs *BackendOutcome // nil when not requested
	Plot   string          // Comparison image artifact, empty if none was drawn
}

// Status summarises service readiness.
type Status struct {
	ModelAvailable  bool
	ModelError      string
	DemucsAvailable bool
	SampleRate      int
	Jobs            int64
}
