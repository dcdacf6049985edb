package noisereducer

import (
	"context"
	"io"

	"github.com/himanishpuri/NoiseReducer/pkg/models"
)

type Service interface {
	Denoise(ctx context.Context, req DenoiseRequest) (*DenoiseResult, error)
	ModelAvailable() bool
	Status(ctx context.Context) (*Status, error)
	GetJob(id string) (*models.Job, error)
	ListJobs(limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
	OpenArtifact(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

type JobStore interface {
	CreateJob(job *models.Job) error
	UpdateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	ListJobs(limit int) ([]*models.Job, error)
	DeleteJob(id string) error
	CountJobs() (int64, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
