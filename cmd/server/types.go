package main

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/NoiseReducer/pkg/models"
)

// MaxUploadBytes bounds POST /api/denoise bodies.
const MaxUploadBytes = 100 << 20

var allowedExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true, ".webm": true,
}

// DenoiseForm is the multipart form of POST /api/denoise.
type DenoiseForm struct {
	Filename string
	Backend  string
}

// Validate checks the form and normalises the backend.
func (f *DenoiseForm) Validate() (models.Backend, error) {
	if f.Filename == "" {
		return "", fmt.Errorf("audio file is required")
	}
	ext := strings.ToLower(filepath.Ext(f.Filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("unsupported audio type %q", ext)
	}
	return models.ParseBackend(f.Backend)
}

// JobDTO is a job in API responses. Artifact fields are download URLs.
type JobDTO struct {
	ID          string    `json:"id"`
	InputName   string    `json:"input_name"`
	Backend     string    `json:"backend"`
	Status      string    `json:"status"`
	CustomURL   string    `json:"custom_url,omitempty"`
	DemucsURL   string    `json:"demucs_url,omitempty"`
	PlotURL     string    `json:"plot_url,omitempty"`
	CustomError string    `json:"custom_error,omitempty"`
	DemucsError string    `json:"demucs_error,omitempty"`
	DurationMs  int       `json:"duration_ms"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func artifactURL(name string) string {
	if name == "" {
		return ""
	}
	return "/api/artifacts/" + url.PathEscape(name)
}

func toJobDTO(j *models.Job) JobDTO {
	return JobDTO{
		ID:          j.ID,
		InputName:   j.InputName,
		Backend:     string(j.Backend),
		Status:      string(j.Status),
		CustomURL:   artifactURL(j.CustomOutput),
		DemucsURL:   artifactURL(j.DemucsOutput),
		PlotURL:     artifactURL(j.PlotOutput),
		CustomError: j.CustomError,
		DemucsError: j.DemucsError,
		DurationMs:  j.DurationMs,
		ElapsedMs:   j.ElapsedMs,
		CreatedAt:   j.CreatedAt,
	}
}

// ListJobsResponse is the response for GET /api/jobs
type ListJobsResponse struct {
	Jobs  []JobDTO `json:"jobs"`
	Count int      `json:"count"`
}

// DeleteJobResponse is the response for DELETE /api/jobs/{id}
type DeleteJobResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// StatusResponse reports service readiness.
type StatusResponse struct {
	Status          string `json:"status"`
	ModelAvailable  bool   `json:"model_available"`
	ModelError      string `json:"model_error,omitempty"`
	DemucsAvailable bool   `json:"demucs_available"`
	SampleRate      int    `json:"sample_rate"`
	JobCount        int64  `json:"job_count"`
	DatabasePath    string `json:"database_path"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
