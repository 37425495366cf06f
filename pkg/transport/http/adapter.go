package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/observability"
	"github.com/maia-bench/maia/pkg/storage"
	"github.com/maia-bench/maia/pkg/transport"
)

// Page sizes for GET /v1/runs.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Adapter serves the answer and run endpoints over HTTP.
type Adapter struct {
	answerer transport.Answerer
	runs     transport.RunReader // nil disables the read endpoints
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{MaxBodySize: 1 << 20}
}

// NewAdapter creates an HTTP adapter. runs and inflight may be nil; the
// endpoints that need them then answer 501 and 404 respectively.
// Middleware is applied to the answerer in the given order.
func NewAdapter(answerer transport.Answerer, runs transport.RunReader, inflight *transport.InFlightRegistry, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		answerer = transport.Chain(middlewares...)(answerer)
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		answerer: answerer,
		runs:     runs,
		inflight: inflight,
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/answers", a.handleAnswer)
	a.mux.HandleFunc("GET /v1/runs/{id}", a.handleGetRun)
	a.mux.HandleFunc("GET /v1/runs", a.handleListRuns)
	a.mux.HandleFunc("DELETE /v1/runs/{id}", a.handleCancelRun)
	a.mux.HandleFunc("GET /v1/batches/{id}", a.handleBatchSummary)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	return a
}

// Handle registers an extra handler on the adapter's mux, e.g. /metrics.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. Request metrics are
// recorded next to the mux so the route pattern is known; wrap is applied
// around that (the first entry outermost) and request ID propagation
// encloses everything, so even rejected requests carry X-Request-ID.
func (a *Adapter) Handler(wrap ...func(http.Handler) http.Handler) http.Handler {
	h := observability.MetricsMiddleware(a.mux)
	for i := len(wrap) - 1; i >= 0; i-- {
		h = wrap[i](h)
	}
	return requestIDMiddleware(h)
}

// requestIDMiddleware reuses the client's X-Request-ID or assigns one, puts
// it on the context and echoes it in the response headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = transport.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

// handleAnswer handles POST /v1/answers.
func (a *Adapter) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.AnswerRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}

	resp, err := a.answerer.Answer(r.Context(), &req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetRun handles GET /v1/runs/{id}.
func (a *Adapter) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !a.requireRuns(w) {
		return
	}
	id, ok := runID(w, r)
	if !ok {
		return
	}

	rec, err := a.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("run "+id+" not found"))
			return
		}
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListRuns handles GET /v1/runs.
func (a *Adapter) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !a.requireRuns(w) {
		return
	}
	f, limit, apiErr := parseFilter(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	records, err := a.runs.List(r.Context(), f)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transport.NewRunList(records, limit))
}

// handleCancelRun handles DELETE /v1/runs/{id}. Only runs still in flight
// can be cancelled; the ledger keeps finished runs.
func (a *Adapter) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	if a.inflight != nil && a.inflight.Cancel(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if a.runs != nil {
		if _, err := a.runs.Get(r.Context(), id); err == nil {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("id", "run "+id+" already finished"),
				http.StatusConflict,
			)
			return
		}
	}
	transport.WriteAPIError(w, api.NewNotFoundError("run "+id+" is not in flight"))
}

// handleBatchSummary handles GET /v1/batches/{id}.
func (a *Adapter) handleBatchSummary(w http.ResponseWriter, r *http.Request) {
	if !a.requireRuns(w) {
		return
	}
	id := r.PathValue("id")
	if !api.ValidateBatchID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed batch ID"))
		return
	}

	sum, err := a.runs.Summary(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("batch "+id+" not found"))
			return
		}
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleHealthz reports that the process is serving.
func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz additionally checks the ledger backend.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.runs != nil {
		if err := a.runs.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) requireRuns(w http.ResponseWriter) bool {
	if a.runs == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "run lookup is not available (no ledger configured)"),
			http.StatusNotImplemented,
		)
		return false
	}
	return true
}

func runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !api.ValidateRunID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed run ID"))
		return "", false
	}
	return id, true
}

// parseFilter reads the list query. The ledger is asked for one extra
// record so the page can report has_more.
func parseFilter(r *http.Request) (storage.Filter, int, *api.APIError) {
	q := r.URL.Query()
	f := storage.Filter{
		BatchID:  q.Get("batch_id"),
		Pipeline: q.Get("pipeline"),
		Status:   api.Outcome(q.Get("status")),
		After:    q.Get("after"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, 0, api.NewInvalidRequestError("status", "status must be completed, fallback or aborted")
	}
	if f.After != "" && !api.ValidateRunID(f.After) {
		return f, 0, api.NewInvalidRequestError("after", "malformed run ID")
	}

	limit := defaultPageSize
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageSize {
			return f, 0, api.NewInvalidRequestError("limit", fmt.Sprintf("limit must be an integer between 1 and %d", maxPageSize))
		}
		limit = n
	}
	f.Limit = limit + 1
	return f, limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
