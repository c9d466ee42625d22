package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/stt-compare/internal/analysis"
	"github.com/snarg/stt-compare/internal/report"
	"github.com/snarg/stt-compare/internal/results"
	"github.com/snarg/stt-compare/internal/transcribe"
)

type ReportHandler struct {
	store     results.Store
	providers []transcribe.ProviderID
	now       func() time.Time
}

func NewReportHandler(store results.Store, providers []transcribe.ProviderID) *ReportHandler {
	return &ReportHandler{store: store, providers: providers, now: time.Now}
}

type reportResponse struct {
	analysis.Metrics
	GeneratedAt  time.Time             `json:"generated_at"`
	MostReliable transcribe.ProviderID `json:"most_reliable,omitempty"`
	Fastest      transcribe.ProviderID `json:"fastest,omitempty"`
}

// GetReport aggregates every stored result. ?format=text returns the same
// text report the CLI writes.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to list results", err.Error())
		return
	}
	m := analysis.Aggregate(all, h.providers)
	now := h.now()

	if wantsText(r) {
		WriteText(w, http.StatusOK, report.RenderMetrics(m, now))
		return
	}

	resp := reportResponse{Metrics: m, GeneratedAt: now}
	if best, ok := m.MostReliable(); ok {
		resp.MostReliable = best.Provider
	}
	if fast, ok := m.Fastest(); ok {
		resp.Fastest = fast.Provider
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *ReportHandler) Routes(r chi.Router) {
	r.Get("/report", h.GetReport)
}
