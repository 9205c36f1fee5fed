package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/postgres"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
)

type CorpusStore interface {
	Stats(ctx context.Context) (postgres.Stats, error)
}

type Handler struct {
	store   CorpusStore
	backend string
}

func NewHandler(s CorpusStore, vectorBackend string) *Handler {
	return &Handler{store: s, backend: vectorBackend}
}

type StatsResponse struct {
	Pages         int     `json:"pages"`
	Chunks        int     `json:"chunks"`
	Embedded      int     `json:"embedded"`
	Coverage      float64 `json:"embedding_coverage"`
	VectorBackend string  `json:"vector_backend"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := h.store.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read corpus stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read corpus stats", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Pages:         st.Pages,
		Chunks:        st.Chunks,
		Embedded:      st.Embedded,
		VectorBackend: h.backend,
	}
	if st.Chunks > 0 {
		resp.Coverage = float64(st.Embedded) / float64(st.Chunks)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"traceId": middleware.GetTraceID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
