// Package noisereducer ties the denoiser, the separation tool, the job store
// and the artifact store into a single service.
package noisereducer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/himanishpuri/NoiseReducer/internal/filestore"
	"github.com/himanishpuri/NoiseReducer/pkg/logger"
	"github.com/himanishpuri/NoiseReducer/pkg/models"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/denoiser"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/plot"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/separation"
	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

var (
	// ErrModelUnavailable is reported by the custom backend when no weights
	// could be loaded.
	ErrModelUnavailable = errors.New("custom model unavailable")
	// ErrDenoiseFailed is returned when no requested backend produced output.
	ErrDenoiseFailed = errors.New("denoising failed")
	ErrBadRequest    = errors.New("bad request")
)

// noiseService is the default implementation of the Service interface.
type noiseService struct {
	net       *denoiser.Network
	modelErr  error
	loader    *audio.Loader
	separator separation.Separator
	jobs      JobStore
	artifacts filestore.Store
	log       Logger
	config    *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	s := &noiseService{
		loader:    &audio.Loader{TempDir: cfg.TempDir},
		separator: cfg.Separator,
		log:       cfg.Logger,
		config:    cfg,
	}

	switch {
	case cfg.Network != nil:
		s.net = cfg.Network
	case cfg.WeightsPath != "":
		net, err := denoiser.LoadFile(cfg.WeightsPath)
		if err != nil {
			s.modelErr = err
			s.log.Warnf("custom model unavailable: %v", err)
		} else {
			s.net = net
			s.log.Infof("Loaded custom model from %s (%d parameters)", cfg.WeightsPath, net.NumParams())
		}
	default:
		s.modelErr = errors.New("no weights configured")
	}

	if s.separator == nil {
		s.separator = separation.NewDemucs(filepath.Join(cfg.TempDir, "separated"))
	}

	if cfg.Artifacts != nil {
		s.artifacts = cfg.Artifacts
	} else {
		local, err := filestore.NewLocal(cfg.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact store: %w", err)
		}
		s.artifacts = local
	}

	if cfg.Jobs != nil {
		s.jobs = cfg.Jobs
	} else {
		jobs, err := NewSQLiteJobStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create job store: %w", err)
		}
		s.jobs = jobs
	}

	return s, nil
}

func (s *noiseService) ModelAvailable() bool {
	return s.net != nil
}

func (s *noiseService) Status(ctx context.Context) (*Status, error) {
	n, err := s.jobs.CountJobs()
	if err != nil {
		return nil, err
	}
	st := &Status{
		ModelAvailable: s.net != nil,
		SampleRate:     s.config.SampleRate,
		Jobs:           n,
	}
	if s.modelErr != nil {
		st.ModelError = s.modelErr.Error()
	}
	if a, ok := s.separator.(interface{ Available() bool }); ok {
		st.DemucsAvailable = a.Available()
	}
	return st, nil
}

// Denoise runs the requested backends on one clip. The returned result is
// non-nil whenever the job was created, including when every backend
// failed; in that case the error wraps ErrDenoiseFailed.
func (s *noiseService) Denoise(ctx context.Context, req DenoiseRequest) (*DenoiseResult, error) {
	backend, err := models.ParseBackend(string(req.Backend))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if req.InputPath == "" {
		return nil, fmt.Errorf("%w: input path is required", ErrBadRequest)
	}
	if !utils.FileExists(req.InputPath) {
		return nil, fmt.Errorf("%w: input %s not found", ErrBadRequest, req.InputPath)
	}
	name := req.InputName
	if name == "" {
		name = filepath.Base(req.InputPath)
	}
	start := time.Now()
	job := &models.Job{
		ID:        uuid.NewString(),
		InputName: name,
		Backend:   backend,
		Status:    models.JobPending,
	}
	if err := s.jobs.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.log.Infof("Job %s: denoising %s with %s backend", job.ID, name, backend)

	res := &DenoiseResult{Job: job}
	runErr := s.run(ctx, req.InputPath, artifactStem(job.ID, name), backend, res)

	job.ElapsedMs = time.Since(start).Milliseconds()
	if res.Custom != nil {
		job.CustomOutput = res.Custom.Artifact
		job.CustomError = errString(res.Custom.Err)
	}
	if res.Demucs != nil {
		job.DemucsOutput = res.Demucs.Artifact
		job.DemucsError = errString(res.Demucs.Err)
	}
	job.PlotOutput = res.Plot
	job.Status = jobStatus(res, runErr)

	if err := s.jobs.UpdateJob(job); err != nil {
		s.log.Errorf("Job %s: failed to save outcome: %v", job.ID, err)
		if runErr == nil {
			runErr = fmt.Errorf("failed to update job: %w", err)
		}
	}

	if runErr != nil {
		s.log.Errorf("Job %s failed: %v", job.ID, runErr)
		return res, runErr
	}
	s.log.Infof("Job %s %s in %dms", job.ID, job.Status, job.ElapsedMs)
	return res, nil
}

// artifactStem prefixes artifact names with the job ID so jobs on inputs
// with the same name never share files.
func artifactStem(jobID, inputName string) string {
	return jobID + "_" + utils.FileStem(inputName)
}

func (s *noiseService) run(ctx context.Context, inputPath, stem string, backend models.Backend, res *DenoiseResult) error {
	workDir, err := os.MkdirTemp(s.config.TempDir, "noisereducer-job-*")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	noisy, err := s.loader.Load(ctx, inputPath, s.config.SampleRate)
	if err != nil {
		return fmt.Errorf("%w: loading input: %v", ErrDenoiseFailed, err)
	}
	res.Job.DurationMs = int(int64(len(noisy)) * 1000 / int64(s.config.SampleRate))

	var denoised []float32
	if backend.Runs(models.BackendCustom) {
		var out []float32
		res.Custom, out = s.runCustom(ctx, noisy, stem, workDir)
		denoised = out
	}
	if backend.Runs(models.BackendDemucs) {
		var out []float32
		res.Demucs, out = s.runDemucs(ctx, inputPath, stem)
		if denoised == nil {
			denoised = out
		}
	}

	if !res.Custom.OK() && !res.Demucs.OK() {
		var merr *multierror.Error
		if res.Custom != nil {
			merr = multierror.Append(merr, fmt.Errorf("custom: %w", res.Custom.Err))
		}
		if res.Demucs != nil {
			merr = multierror.Append(merr, fmt.Errorf("demucs: %w", res.Demucs.Err))
		}
		return fmt.Errorf("%w: %v", ErrDenoiseFailed, merr.ErrorOrNil())
	}

	if denoised != nil {
		plotName := stem + "_comparison.png"
		plotPath := filepath.Join(workDir, plotName)
		if err := plot.ComparisonFile(plotPath, noisy, denoised, s.config.SampleRate); err != nil {
			s.log.Warnf("Job %s: comparison plot failed: %v", res.Job.ID, err)
		} else if err := filestore.PutFile(ctx, s.artifacts, plotName, plotPath); err != nil {
			s.log.Warnf("Job %s: storing comparison plot failed: %v", res.Job.ID, err)
		} else {
			res.Plot = plotName
		}
	}
	return nil
}

func (s *noiseService) runCustom(ctx context.Context, noisy []float32, stem, workDir string) (*BackendOutcome, []float32) {
	if s.net == nil {
		return &BackendOutcome{Reason: "model_unavailable", Err: ErrModelUnavailable}, nil
	}
	out, err := s.net.Denoise(noisy)
	if err != nil {
		return &BackendOutcome{Reason: "inference_failed", Err: err}, nil
	}

	name := stem + "_denoised_custom.wav"
	path := filepath.Join(workDir, name)
	if err := audio.WriteWAV(path, out, s.config.SampleRate); err != nil {
		return &BackendOutcome{Reason: "write_failed", Err: err}, nil
	}
	if err := filestore.PutFile(ctx, s.artifacts, name, path); err != nil {
		return &BackendOutcome{Reason: "store_failed", Err: err}, nil
	}
	return &BackendOutcome{Artifact: name}, out
}

func (s *noiseService) runDemucs(ctx context.Context, inputPath, stem string) (*BackendOutcome, []float32) {
	r := s.separator.Separate(ctx, inputPath)
	if !r.OK {
		s.log.Warnf("demucs failed (%s): %v", r.Reason, r.Err)
		return &BackendOutcome{Reason: string(r.Reason), Err: r.Error()}, nil
	}

	name := stem + "_denoised_demucs.wav"
	if err := filestore.PutFile(ctx, s.artifacts, name, r.OutputPath); err != nil {
		return &BackendOutcome{Reason: "store_failed", Err: err}, nil
	}

	// The stem is only needed for the comparison plot.
	out, err := s.loader.Load(ctx, r.OutputPath, s.config.SampleRate)
	if err != nil {
		s.log.Warnf("reading demucs output %s: %v", r.OutputPath, err)
		out = nil
	}
	return &BackendOutcome{Artifact: name}, out
}

func jobStatus(res *DenoiseResult, runErr error) models.JobStatus {
	if runErr != nil && !res.Custom.OK() && !res.Demucs.OK() {
		return models.JobFailed
	}
	if (res.Custom != nil && !res.Custom.OK()) || (res.Demucs != nil && !res.Demucs.OK()) {
		return models.JobPartial
	}
	return models.JobSucceeded
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *noiseService) GetJob(id string) (*models.Job, error) {
	return s.jobs.GetJob(id)
}

func (s *noiseService) ListJobs(limit int) ([]*models.Job, error) {
	return s.jobs.ListJobs(limit)
}

// DeleteJob removes the job's artifacts and then the job itself.
func (s *noiseService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.jobs.GetJob(id)
	if err != nil {
		return err
	}
	var merr *multierror.Error
	for _, name := range job.Artifacts() {
		if err := s.artifacts.Delete(ctx, name); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("deleting %s: %w", name, err))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	return s.jobs.DeleteJob(id)
}

func (s *noiseService) OpenArtifact(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.artifacts.Open(ctx, name)
}

// Close releases all resources held by the service.
func (s *noiseService) Close() error {
	var merr *multierror.Error
	if err := s.jobs.Close(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if c, ok := s.artifacts.(io.Closer); ok {
		if err := c.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
