package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/stt-compare/internal/audio"
	"github.com/snarg/stt-compare/internal/compare"
)

// JobsHandler queues comparisons of files already on the server's disk.
type JobsHandler struct {
	pool     *compare.WorkerPool
	audioDir string
}

func NewJobsHandler(pool *compare.WorkerPool, audioDir string) *JobsHandler {
	return &JobsHandler{pool: pool, audioDir: audioDir}
}

type jobRequest struct {
	Path string `json:"path"`
}

// CreateJob handles POST /api/v1/jobs with body {"path": "..."}. The path is
// relative to the audio directory and may not leave it.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := DecodeJSON(r, &req); err != nil || req.Path == "" {
		WriteError(w, http.StatusBadRequest, `body must be {"path": "<audio file>"}`)
		return
	}
	path, err := audio.ResolveFile(h.audioDir, req.Path)
	switch {
	case errors.Is(err, audio.ErrOutsideDir):
		WriteErrorDetail(w, http.StatusBadRequest, "path must be inside the audio directory", req.Path)
		return
	case err != nil:
		WriteErrorDetail(w, http.StatusNotFound, "audio file not found", req.Path)
		return
	}
	if !audio.IsAudio(path) {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType, "unsupported audio file", req.Path)
		return
	}
	if !h.pool.Enqueue(compare.Job{Path: path, Source: "api"}) {
		w.Header().Set("Retry-After", "30")
		WriteError(w, http.StatusServiceUnavailable, "comparison queue is full")
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"queued": path,
		"queue":  h.pool.Stats(),
	})
}

func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.pool.Stats())
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateJob)
	r.Get("/jobs/stats", h.Stats)
}
