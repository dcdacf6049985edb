package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/himanishpuri/NoiseReducer/internal/filestore"
	"github.com/himanishpuri/NoiseReducer/pkg/logger"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/storage"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service noisereducer.Service
	config  *ServerConfig
	log     noisereducer.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	TempDir        string
	AllowedOrigins []string
	DenoiseTimeout time.Duration
	AccessLog      bool
}

// NewServer creates a new server instance
func NewServer(service noisereducer.Service, config *ServerConfig, log noisereducer.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	if config.DenoiseTimeout <= 0 {
		config.DenoiseTimeout = 15 * time.Minute
	}
	return &Server{
		service: service,
		config:  config,
		log:     log,
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.respondError(w, http.StatusNotFound, "no such endpoint")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "NoiseReducer API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":    "GET /health",
			"status":    "GET /api/status",
			"denoise":   "POST /api/denoise",
			"jobs":      "GET /api/jobs",
			"getJob":    "GET /api/jobs/{id}",
			"deleteJob": "DELETE /api/jobs/{id}",
			"artifact":  "GET /api/artifacts/{name}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context())
	if err != nil {
		s.log.Errorf("Failed to read status: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve status")
		return
	}
	status := "healthy"
	if !st.ModelAvailable {
		status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, StatusResponse{
		Status:          status,
		ModelAvailable:  st.ModelAvailable,
		ModelError:      st.ModelError,
		DemucsAvailable: st.DemucsAvailable,
		SampleRate:      st.SampleRate,
		JobCount:        st.Jobs,
		DatabasePath:    s.config.DBPath,
	})
}

// handleDenoise handles POST /api/denoise (multipart: audio, backend)
func (s *Server) handleDenoise(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.DenoiseTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	form := DenoiseForm{Filename: filepath.Base(header.Filename), Backend: r.FormValue("backend")}
	backend, err := form.Validate()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tmp, err := os.CreateTemp(s.config.TempDir, "upload-*"+filepath.Ext(form.Filename))
	if err != nil {
		s.log.Errorf("Failed to create temp file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}
	if err := tmp.Close(); err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}

	s.log.Infof("Denoising upload %s with %s backend", form.Filename, backend)
	res, err := s.service.Denoise(ctx, noisereducer.DenoiseRequest{
		InputPath: tmp.Name(),
		InputName: form.Filename,
		Backend:   backend,
	})
	switch {
	case errors.Is(err, noisereducer.ErrBadRequest):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case res == nil:
		s.log.Errorf("Denoise failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to denoise audio")
	case err != nil:
		// The job exists and records why each backend failed.
		s.respondJSON(w, http.StatusUnprocessableEntity, toJobDTO(res.Job))
	default:
		s.respondJSON(w, http.StatusCreated, toJobDTO(res.Job))
	}
}

// handleListJobs handles GET /api/jobs?limit=N
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	jobs, err := s.service.ListJobs(limit)
	if err != nil {
		s.log.Errorf("Failed to list jobs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve jobs")
		return
	}
	dtos := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = toJobDTO(j)
	}
	s.respondJSON(w, http.StatusOK, ListJobsResponse{Jobs: dtos, Count: len(dtos)})
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.service.GetJob(id)
	if err != nil {
		s.respondJobError(w, id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toJobDTO(job))
}

// handleDeleteJob handles DELETE /api/jobs/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.DeleteJob(r.Context(), id); err != nil {
		s.respondJobError(w, id, err)
		return
	}
	s.log.Infof("Deleted job %s", id)
	s.respondJSON(w, http.StatusOK, DeleteJobResponse{Message: "Job deleted successfully", ID: id})
}

func (s *Server) respondJobError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrJobNotFound) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", id))
		return
	}
	s.log.Errorf("Job %s: %v", id, err)
	s.respondError(w, http.StatusInternalServerError, "Failed to access job")
}

// handleArtifact handles GET /api/artifacts/{name}
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rc, err := s.service.OpenArtifact(r.Context(), name)
	switch {
	case errors.Is(err, filestore.ErrInvalidName):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, os.ErrNotExist):
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Artifact %s not found", name))
		return
	case err != nil:
		s.log.Errorf("Failed to open artifact %s: %v", name, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read artifact")
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warnf("Streaming %s interrupted: %v", name, err)
	}
}
