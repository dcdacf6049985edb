package models

import (
	"fmt"
	"strings"
	"time"
)

// Backend selects which denoiser processes a clip.
type Backend string

const (
	BackendCustom Backend = "custom" // in-process convolutional network
	BackendDemucs Backend = "demucs" // external source separation
	BackendBoth   Backend = "both"
)

// ParseBackend accepts backend names case-insensitively. Empty means both.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendCustom:
		return BackendCustom, nil
	case BackendDemucs:
		return BackendDemucs, nil
	case BackendBoth, "":
		return BackendBoth, nil
	}
	return "", fmt.Errorf("unknown backend %q (want custom, demucs or both)", s)
}

// Runs reports whether b includes the single backend one.
func (b Backend) Runs(one Backend) bool {
	return b == one || b == BackendBoth
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	// JobPartial means one of two requested backends failed.
	JobPartial JobStatus = "partial"
	JobFailed  JobStatus = "failed"
)

// Job is one denoising request and its outcome. Output fields hold artifact
// names in the artifact store, not filesystem paths.
type Job struct {
	ID           string
	InputName    string
	Backend      Backend
	Status       JobStatus
	CustomOutput string
	DemucsOutput string
	PlotOutput   string
	CustomError  string
	DemucsError  string
	DurationMs   int
	ElapsedMs    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Artifacts lists the non-empty output names of the job.
func (j *Job) Artifacts() []string {
	var out []string
	for _, name := range []string{j.CustomOutput, j.DemucsOutput, j.PlotOutput} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// TrainingEpoch is one row of a training run's history.
type TrainingEpoch struct {
	RunID     string
	Epoch     int
	TrainLoss float64
	EvalLoss  float64
	Duration  time.Duration
	CreatedAt time.Time
}
