package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/metrics"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stream"
)

const (
	maxBodyBytes     = 1 << 20
	defaultKeepAlive = 15 * time.Second
)

type Runner interface {
	Run(ctx context.Context, req pipeline.Request, emitter stream.Emitter) *pipeline.Run
}

type Handler struct {
	runner    Runner
	sink      stream.Emitter
	buffer    int
	keepAlive time.Duration
}

// NewHandler serves verification requests. sink, when non-nil, receives a
// copy of every event of every run.
func NewHandler(r Runner, sink stream.Emitter, buffer int) *Handler {
	return &Handler{runner: r, sink: sink, buffer: buffer, keepAlive: defaultKeepAlive}
}

func (h *Handler) SetKeepAlive(d time.Duration) {
	h.keepAlive = d
}

type Request struct {
	Claim   string           `json:"claim,omitempty"`
	URL     string           `json:"url,omitempty"`
	AsOf    *time.Time       `json:"as_of,omitempty"`
	Options pipeline.Options `json:"options"`
}

func (r Request) pipelineRequest(traceID string) pipeline.Request {
	return pipeline.Request{ClaimText: r.Claim, URL: r.URL, AsOf: r.AsOf, TraceID: traceID, Options: r.Options}
}

type SyncResponse struct {
	TraceID string            `json:"trace_id"`
	Events  []stream.Event    `json:"events"`
	Result  *pipeline.Verdict `json:"result,omitempty"`
	Error   *stream.ErrorInfo `json:"error,omitempty"`
	Notices []pipeline.Notice `json:"notices,omitempty"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.WarnContext(r.Context(), "invalid verify request", "error", err)
		h.writeError(r.Context(), w, "INVALID_JSON", "request body must be a JSON object", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// Stream runs the pipeline and streams its events as server-sent events. A
// client disconnect cancels the run.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(ctx, w, "STREAMING_UNSUPPORTED", "streaming is not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	q := stream.NewQueue(h.buffer)
	q.OnDrop(func(e stream.Event) {
		metrics.StreamDropped()
		slog.WarnContext(ctx, "stream buffer full, event dropped", "seq", e.Seq, "type", e.Type)
	})

	traceID, _ := middleware.TraceIDFrom(ctx)
	go func() {
		defer q.Close()
		h.runner.Run(ctx, req.pipelineRequest(traceID), stream.Fanout(q, h.sink))
	}()

	events := make(chan stream.Event)
	go func() {
		defer close(events)
		for {
			e, ok := q.Next(ctx)
			if !ok {
				return
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				slog.ErrorContext(ctx, "failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
			if e.Terminal() {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			slog.InfoContext(ctx, "client disconnected, run canceled")
			return
		}
	}
}

// Sync runs the pipeline and returns the whole event log at once.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	traceID, _ := middleware.TraceIDFrom(ctx)
	run := h.runner.Run(ctx, req.pipelineRequest(traceID), h.sink)
	resp := SyncResponse{TraceID: run.TraceID, Events: run.Events, Result: run.Result, Notices: run.Notices}
	status := http.StatusOK
	if run.Err != nil {
		resp.Error = &stream.ErrorInfo{Kind: string(run.Err.Kind), Message: run.Err.Error(), Stage: string(run.Err.Stage)}
		status = statusFor(run.Err.Kind)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func statusFor(k pipeline.Kind) int {
	switch k {
	case pipeline.KindInvalidInput:
		return http.StatusBadRequest
	case pipeline.KindStageTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
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
