package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"biowatch/internal/apperr"
	"biowatch/internal/logging"
	"biowatch/internal/metrics"
)

// envelope is the uniform RPC reply shape (spec §6): {data} on success,
// {error} on failure, {cancelled: true} on user/context cancellation.
type envelope struct {
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`
}

// writeJSON encodes v and writes it, logging (not panicking) on an encode
// failure, following the teacher's writeJSON in internal/handlers/utils.go.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("rpc: failed to encode response: %v", err)
	}
}

func writeData(w http.ResponseWriter, v interface{}) {
	writeJSON(w, http.StatusOK, envelope{Data: v})
}

// writeErr maps an error's apperr.Kind to an HTTP status and the envelope's
// error/cancelled fields.
func writeErr(w http.ResponseWriter, handler string, err error) {
	if apperr.Is(err, apperr.KindCancelled) {
		metrics.RPCRequestErrors.WithLabelValues(handler, apperr.KindCancelled.String()).Inc()
		writeJSON(w, http.StatusOK, envelope{Cancelled: true})
		return
	}

	kind := apperr.KindOf(err)
	metrics.RPCRequestErrors.WithLabelValues(handler, kind.String()).Inc()

	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalidInput, apperr.KindParse:
		status = http.StatusBadRequest
	case apperr.KindConstraintViolation, apperr.KindStateConflict:
		status = http.StatusConflict
	case apperr.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, envelope{Error: err.Error()})
}

// instrument wraps a handler body with duration metrics under its RPC
// handler name (spec §4.J), following the teacher's observeQuery closure
// pattern adapted to the HTTP boundary.
func instrument(handler string, fn func()) {
	start := time.Now()
	fn()
	metrics.RPCRequestDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "decode request body")
	}
	return nil
}
