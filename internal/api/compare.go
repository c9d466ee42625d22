package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/audio"
	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/report"
	"github.com/snarg/stt-compare/internal/results"
)

// CompareHandler runs a comparison synchronously on an uploaded file.
type CompareHandler struct {
	orch     *compare.Orchestrator
	store    results.Store
	publish  compare.PublishFunc
	maxBytes int64
	log      zerolog.Logger
}

func NewCompareHandler(orch *compare.Orchestrator, store results.Store, publish compare.PublishFunc, maxBytes int64, log zerolog.Logger) *CompareHandler {
	return &CompareHandler{
		orch:     orch,
		store:    store,
		publish:  publish,
		maxBytes: maxBytes,
		log:      log.With().Str("handler", "compare").Logger(),
	}
}

func (h *CompareHandler) Routes(r chi.Router) {
	r.Post("/compare", h.Compare)
}

// Compare handles POST /api/v1/compare with the audio in the multipart
// field "file". The result is saved unless ?save=false.
func (h *CompareHandler) Compare(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, `missing "file" field`)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || !audio.IsAudio(name) {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType, "unsupported audio file", header.Filename)
		return
	}

	// Keep the original name so the result key matches the upload.
	dir, err := os.MkdirTemp("", "stt-compare-upload-")
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := writeUpload(path, file); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}

	a, err := audio.Open(path)
	if err != nil {
		WriteErrorDetail(w, http.StatusUnprocessableEntity, "unreadable audio file", err.Error())
		return
	}

	res := h.orch.Compare(r.Context(), a)

	if save, ok := QueryBool(r, "save"); !ok || save {
		if err := h.store.Save(r.Context(), res); err != nil {
			h.log.Error().Err(err).Str("key", res.Key()).Msg("failed to save result")
			WriteErrorDetail(w, http.StatusInternalServerError, "comparison finished but could not be saved", err.Error())
			return
		}
		if h.publish != nil {
			h.publish(res)
		}
	}

	if wantsText(r) {
		WriteText(w, http.StatusOK, report.RenderResult(res, h.orch.Providers()))
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func writeUpload(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
