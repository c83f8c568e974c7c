package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/caption-engine/internal/identity"
	"github.com/snarg/caption-engine/internal/storage"
	"github.com/snarg/caption-engine/internal/transcribe"
)

// JobSource is the read side of the transcription job coordinator.
type JobSource interface {
	Status(ctx context.Context, digest string) (*transcribe.Job, error)
	List(ctx context.Context, limit int) ([]transcribe.Job, error)
}

// ArtifactReader reads cached artifacts.
type ArtifactReader interface {
	Read(ctx context.Context, digest string, kind storage.Kind) ([]byte, error)
}

type JobsHandler struct {
	jobs      JobSource
	artifacts ArtifactReader
}

func NewJobsHandler(jobs JobSource, artifacts ArtifactReader) *JobsHandler {
	return &JobsHandler{jobs: jobs, artifacts: artifacts}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{digest}", h.GetJob)
	r.Get("/jobs/{digest}/transcript", h.GetTranscript)
}

// ListJobs returns the most recent external transcription jobs.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r, 20, 100)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadGateway, "transcription service unavailable", err.Error())
		return
	}
	if jobs == nil {
		jobs = []transcribe.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetJob returns the external job named by a digest.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	digest, ok := digestParam(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Status(r.Context(), digest)
	if errors.Is(err, transcribe.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		WriteErrorDetail(w, http.StatusBadGateway, "transcription service unavailable", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetTranscript returns the cached raw transcript for a digest.
func (h *JobsHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	digest, ok := digestParam(w, r)
	if !ok {
		return
	}
	data, err := h.artifacts.Read(r.Context(), digest, storage.Raw)
	if errors.Is(err, storage.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "no transcript cached for digest")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func digestParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	digest := chi.URLParam(r, "digest")
	if !identity.ValidDigest(digest) {
		WriteError(w, http.StatusBadRequest, "invalid digest")
		return "", false
	}
	return digest, true
}
