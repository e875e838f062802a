// Package api exposes the session manager over HTTP.
//
//	POST /api/analysis                 submit a run
//	GET  /api/analysis/{id}/progress   latest progress event
//	GET  /api/analysis/{id}/history    every progress event
//	GET  /api/analysis/{id}/result     terminal outcome
//	POST /api/analysis/{id}/cancel     cancel a run
//	GET  /api/stats                    admission and pool statistics
//	GET  /metrics                      Prometheus metrics
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/tradegrid/internal/concurrency"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/pipeline"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/session"
	"github.com/vk/tradegrid/internal/state"
)

// DefaultRetryAfter is advertised when a submission is rejected for load.
const DefaultRetryAfter = 30 * time.Second

// Service is the part of session.Manager the API needs.
type Service interface {
	Submit(ctx context.Context, req session.Request) (state.RunID, error)
	Progress(ctx context.Context, id state.RunID) (progress.Event, error)
	History(ctx context.Context, id state.RunID) ([]progress.Event, error)
	Result(ctx context.Context, id state.RunID) (progress.Result, error)
	Cancel(ctx context.Context, id state.RunID) error
	Stats() concurrency.Stats
}

var _ Service = (*session.Manager)(nil)

// Options tune the router.
type Options struct {
	Logger *slog.Logger
	// Gatherer, if set, is served on /metrics.
	Gatherer   prometheus.Gatherer
	RetryAfter time.Duration
}

type handler struct {
	svc        Service
	retryAfter time.Duration
}

// NewRouter builds the HTTP routes for svc.
func NewRouter(svc Service, opts Options) *mux.Router {
	h := &handler{svc: svc, retryAfter: opts.RetryAfter}
	if h.retryAfter <= 0 {
		h.retryAfter = DefaultRetryAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(withLogger(logger))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analysis", h.submit).Methods(http.MethodPost)
	api.HandleFunc("/analysis/{id}/progress", h.progress).Methods(http.MethodGet)
	api.HandleFunc("/analysis/{id}/history", h.history).Methods(http.MethodGet)
	api.HandleFunc("/analysis/{id}/result", h.result).Methods(http.MethodGet)
	api.HandleFunc("/analysis/{id}/cancel", h.cancel).Methods(http.MethodPost)
	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func withLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logger.With("method", r.Method, "path", r.URL.Path)
			l.Debug("HTTP request received.", "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(ctxlog.WithLogger(r.Context(), l)))
		})
	}
}

type submitResponse struct {
	AnalysisID state.RunID `json:"analysis_id"`
	Status     string      `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	id, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{AnalysisID: id, Status: state.StatusPending.String()})
}

func (h *handler) progress(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.Progress(r.Context(), runID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	evs, err := h.svc.History(r.Context(), runID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (h *handler) result(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Result(r.Context(), runID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := runID(r)
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{AnalysisID: id, Status: "cancelling"})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func runID(r *http.Request) state.RunID {
	return state.RunID(mux.Vars(r)["id"])
}

// fail maps err to a status code. Unexpected errors are logged and answered
// without detail.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, state.ErrInvalidParams), errors.Is(err, pipeline.ErrUnknownAnalyst):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNotReady):
		status = http.StatusConflict
	case errors.Is(err, concurrency.ErrResourceExhausted), errors.Is(err, session.ErrShuttingDown):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
	}

	if status == http.StatusInternalServerError {
		ctxlog.FromContext(r.Context()).Error("Request failed", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
