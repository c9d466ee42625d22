package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/stt-compare/internal/report"
	"github.com/snarg/stt-compare/internal/results"
)

type ResultsHandler struct {
	store results.Store
}

func NewResultsHandler(store results.Store) *ResultsHandler {
	return &ResultsHandler{store: store}
}

// resultSummary is one row of the result listing.
type resultSummary struct {
	Key       string `json:"key"`
	RunID     string `json:"run_id"`
	FileName  string `json:"file_name"`
	Timestamp string `json:"timestamp"`
	Succeeded int    `json:"succeeded"`
	Providers int    `json:"providers"`
}

// ListResults returns a summary of every stored comparison.
func (h *ResultsHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to list results", err.Error())
		return
	}
	rows := make([]resultSummary, 0, len(all))
	for _, res := range all {
		rows = append(rows, resultSummary{
			Key:       res.Key(),
			RunID:     res.RunID,
			FileName:  res.AudioName,
			Timestamp: res.Timestamp.Format(time.RFC3339),
			Succeeded: res.SuccessCount(),
			Providers: len(res.Outcomes),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"results": rows,
		"total":   len(rows),
	})
}

// GetResult returns one comparison by key (the audio file stem).
func (h *ResultsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !results.ValidKey(key) {
		WriteError(w, http.StatusBadRequest, "invalid result key")
		return
	}
	res, err := h.store.Get(r.Context(), key)
	if errors.Is(err, results.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to load result", err.Error())
		return
	}
	if wantsText(r) {
		WriteText(w, http.StatusOK, report.RenderResult(res, nil))
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *ResultsHandler) Routes(r chi.Router) {
	r.Get("/results", h.ListResults)
	r.Get("/results/{key}", h.GetResult)
}
