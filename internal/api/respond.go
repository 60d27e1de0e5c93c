package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"
	"lotterydash/internal/orchestrator"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("api: cannot encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	body := errorResponse{Error: code}
	if err != nil {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

var flowErrors = []struct {
	err    error
	status int
	code   string
}{
	{orchestrator.ErrNotConnected, http.StatusConflict, "connect_wallet"},
	{orchestrator.ErrInvalidTickets, http.StatusBadRequest, "invalid_tickets"},
	{orchestrator.ErrCostUnavailable, http.StatusServiceUnavailable, "cost_unavailable"},
	{orchestrator.ErrApprovalPending, http.StatusConflict, "approval_pending"},
	{orchestrator.ErrAlreadyStarted, http.StatusConflict, "already_started"},
	{orchestrator.ErrConfirmationRequired, http.StatusConflict, "confirmation_required"},
	{orchestrator.ErrNothingToRecheck, http.StatusConflict, "nothing_to_recheck"},
	{orchestrator.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
}

// writeFlowError maps a write flow error to a status and a stable code.
func writeFlowError(w http.ResponseWriter, err error) {
	for _, fe := range flowErrors {
		if errors.Is(err, fe.err) {
			writeError(w, fe.status, fe.code, err)
			return
		}
	}

	switch orchestrator.Classify(err) {
	case orchestrator.FailureRejected:
		writeError(w, http.StatusUnprocessableEntity, "rejected", err)
	case orchestrator.FailureSubmission:
		writeError(w, http.StatusBadGateway, "submission_failed", err)
	default:
		logger.Error("api: unexpected flow error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the countdown stream upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// instrument records request metrics under the route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}

		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		logger.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", recorder.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
