package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/analytics/fib"
	"github.com/sawpanic/spxsignals/internal/analytics/memory"
	"github.com/sawpanic/spxsignals/internal/application"
	"github.com/sawpanic/spxsignals/internal/snapshot"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotResponse wraps the composite with how it was obtained.
type SnapshotResponse struct {
	application.Snapshot
	Outcome snapshot.Outcome `json:"outcome"`
}

// Handlers serves the analytics components of one Service.
type Handlers struct {
	svc *application.Service
}

func NewHandlers(svc *application.Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

// writeComputeError maps a component failure onto a status code.
func (h *Handlers) writeComputeError(w http.ResponseWriter, r *http.Request, err error) {
	log.Warn().Err(err).Str("request_id", requestID(r)).Str("path", r.URL.Path).Msg("Request failed")
	if errors.Is(err, crossmarket.ErrNoLandscape) {
		h.writeError(w, r, http.StatusServiceUnavailable, "landscape_unavailable", err.Error())
		return
	}
	h.writeError(w, r, http.StatusBadGateway, "compute_failed", err.Error())
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

// Basis handles GET /basis?force=true
func (h *Handlers) Basis(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Basis.GetBasisState(r.Context(), crossmarket.BasisOptions{ForceRefresh: boolParam(r, "force")})
	if err != nil {
		h.writeComputeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// Impact handles GET /impact?force=true
func (h *Handlers) Impact(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Impact.GetSpyImpactState(r.Context(), crossmarket.ImpactOptions{ForceRefresh: boolParam(r, "force")})
	if err != nil {
		h.writeComputeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// Fib handles GET /fib?date=YYYY-MM-DD&basis=1.9&force=true
func (h *Handlers) Fib(w http.ResponseWriter, r *http.Request) {
	opts := fib.Options{
		ForceRefresh: boolParam(r, "force"),
		AsOfDate:     r.URL.Query().Get("date"),
	}
	basis, hasBasis, err := floatParam(r, "basis")
	if err != nil {
		h.writeParamError(w, r, "basis", err)
		return
	}
	if hasBasis {
		opts.BasisCurrent = &basis
	}
	if opts.IntradayHigh, _, err = floatParam(r, "intraday_high"); err != nil {
		h.writeParamError(w, r, "intraday_high", err)
		return
	}
	if opts.IntradayLow, _, err = floatParam(r, "intraday_low"); err != nil {
		h.writeParamError(w, r, "intraday_low", err)
		return
	}

	levels, err := h.svc.Fib.GetFibLevels(r.Context(), opts)
	if err != nil {
		h.writeComputeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, levels)
}

// Memory handles GET /memory?setup_type=..&direction=..&entry_mid=..
func (h *Handlers) Memory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entryMid, ok, err := floatParam(r, "entry_mid")
	if err == nil && !ok {
		err = errors.New("required")
	}
	if err != nil {
		h.writeParamError(w, r, "entry_mid", err)
		return
	}
	tolerance, _, err := floatParam(r, "tolerance")
	if err != nil {
		h.writeParamError(w, r, "tolerance", err)
		return
	}
	lookback, _, err := intParam(r, "lookback")
	if err != nil {
		h.writeParamError(w, r, "lookback", err)
		return
	}

	summary := h.svc.Memory.GetLevelMemoryContext(r.Context(), memory.Query{
		SessionDate:      q.Get("date"),
		SetupType:        q.Get("setup_type"),
		Direction:        q.Get("direction"),
		EntryMid:         entryMid,
		LookbackSessions: lookback,
		TolerancePoints:  tolerance,
		ForceRefresh:     boolParam(r, "force"),
	})
	h.writeJSON(w, http.StatusOK, summary)
}

// Snapshot handles GET /snapshot?force=true&wait_ms=1800
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	opts := application.SnapshotOptions{
		ForceRefresh: boolParam(r, "force"),
		AsOfDate:     r.URL.Query().Get("date"),
	}
	ms, _, err := intParam(r, "wait_ms")
	if err != nil {
		h.writeParamError(w, r, "wait_ms", err)
		return
	}
	if ms > 0 {
		opts.Wait.Timeout = time.Duration(ms) * time.Millisecond
	}

	snap, outcome, err := h.svc.Snapshot(r.Context(), opts)
	if err != nil {
		h.writeComputeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SnapshotResponse{Snapshot: snap, Outcome: outcome})
}

// writeParamError rejects a malformed query parameter with 400 invalid_<name>.
func (h *Handlers) writeParamError(w http.ResponseWriter, r *http.Request, name string, err error) {
	h.writeError(w, r, http.StatusBadRequest, "invalid_"+name, fmt.Sprintf("%s: %v", name, err))
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// floatParam parses an optional finite number. A missing parameter is not an error.
func floatParam(r *http.Request, name string) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%q is not a number", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("%q is not finite", raw)
	}
	return v, true, nil
}

// intParam parses an optional non-negative integer.
func intParam(r *http.Request, name string) (int, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false, fmt.Errorf("%q is not a non-negative integer", raw)
	}
	return v, true, nil
}
