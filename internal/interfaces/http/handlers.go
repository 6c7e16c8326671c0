package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/persistence"
	"github.com/sawpanic/tradegate/internal/pipeline"
	"github.com/sawpanic/tradegate/internal/policy"
)

// Handlers serves the JSON API over one pipeline
type Handlers struct {
	pipeline  *pipeline.Pipeline
	decisions persistence.DecisionRepo
	health    persistence.RepositoryHealth
	hub       *Hub
	metrics   *MetricsRegistry
	version   string
	started   time.Time
}

// Health reports liveness, database status and the ledger version
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		Version:       h.version,
		LedgerVersion: h.pipeline.Ledger().Snapshot().Version,
	}
	if h.health != nil {
		resp.Database = h.health.Health(r.Context())
		if !resp.Database.Healthy {
			resp.Status = "degraded"
		}
	}
	if h.hub != nil {
		resp.StreamClients = h.hub.Clients()
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Regime classifies the current snapshot
func (h *Handlers) Regime(w http.ResponseWriter, r *http.Request) {
	a, err := h.pipeline.Regime(r.Context())
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SetActiveRegime(a.Disposition)
	}
	writeJSON(w, http.StatusOK, a)
}

// Sectors ranks sectors for the current disposition
func (h *Handlers) Sectors(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.pipeline.Sectors(r.Context())
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

// Evaluate runs the pipeline for one ticker
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if errs := decodeAndValidate(r, &req); errs != nil {
		writeValidation(w, r, errs)
		return
	}

	rec, err := h.pipeline.EvaluateWith(r.Context(), pipeline.EvaluateOptions{
		Ticker:      req.Ticker,
		Acknowledge: req.Acknowledge,
	})
	if err != nil && (rec == nil || rec.Status == pipeline.StatusError) {
		writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Cycle decides the top candidates of the selected sector
func (h *Handlers) Cycle(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if errs := decodeAndValidate(r, &req); errs != nil {
		writeValidation(w, r, errs)
		return
	}

	recs, err := h.pipeline.Cycle(r.Context(), req.Top)
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CycleResponse{Count: len(recs), Decisions: recs})
}

// Decision returns one stored decision record
func (h *Handlers) Decision(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.decisions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if rec == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "decision "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Decisions lists recent decisions, optionally for one ticker
func (h *Handlers) Decisions(w http.ResponseWriter, r *http.Request) {
	q := DecisionsQuery{Ticker: strings.ToUpper(r.URL.Query().Get("ticker"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeValidation(w, r, []ValidationError{{Code: "ERR_NUMBER", Field: "limit", Message: "limit must be an integer"}})
			return
		}
		q.Limit = n
	}
	if errs := check(r.Context(), &q); errs != nil {
		writeValidation(w, r, errs)
		return
	}

	recs, err := h.decisions.ListRecent(r.Context(), q.Ticker, q.Limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DecisionsResponse{Count: len(recs), Decisions: recs})
}

// Ledger returns the current portfolio snapshot
func (h *Handlers) Ledger(w http.ResponseWriter, r *http.Request) {
	l := h.pipeline.Ledger()
	s := l.Snapshot()
	writeJSON(w, http.StatusOK, LedgerResponse{State: s, OpenRiskPct: s.OpenRiskPct(), Limits: l.Limits()})
}

// NotFound handles unknown routes
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not_found", "endpoint "+r.URL.Path+" not found")
}

// writePolicyError maps the error taxonomy onto HTTP status codes
func writePolicyError(w http.ResponseWriter, r *http.Request, err error) {
	kind := policy.Kind(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, policy.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, policy.ErrDataUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, policy.ErrPolicyViolation):
		status = http.StatusUnprocessableEntity
		if code, ok := policy.CodeOf(err); ok {
			kind = string(code)
		}
	}
	writeError(w, r, status, kind, err.Error())
}

func writeValidation(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     "validation",
		Code:      errs[0].Code,
		Message:   errs[0].Message,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
		Details:   errs,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
