package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/safelex/safelex/internal/gateway"
)

// ErrorResponse is the JSON body for all error replies.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// RetryAfter, in seconds, mirrors the Retry-After header when set.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first strategy to ensure headers are only sent after successful
// encoding. This allows returning a proper 500 error if encoding fails.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		slog.Debug("failed to write response body", "error", err)
	}
}

// writeError writes a machine-readable error code with a human message.
func writeError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "code", code)
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeTurnError maps a gateway turn error to an HTTP reply. The message
// inside the error is already user-safe; internals stay in the logs.
func writeTurnError(w http.ResponseWriter, te *gateway.TurnError, logger *slog.Logger) {
	status, code := turnStatus(te.Kind)

	resp := ErrorResponse{Error: code, Message: te.Message}
	if te.RetryAfter > 0 {
		secs := int(te.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		resp.RetryAfter = secs
	}

	if status >= http.StatusInternalServerError {
		logger.Error("turn failed", "kind", te.Kind, "error", te.Err)
	} else {
		logger.Debug("turn rejected", "kind", te.Kind, "status", status)
	}
	writeJSON(w, status, resp)
}

// turnStatus maps turn error kinds to HTTP statuses. Quota exhaustion is
// 403 rather than 429: the per-IP rate limiter owns 429, and the quota
// denial is a policy decision tied to the account, not request pacing.
func turnStatus(kind gateway.ErrorKind) (int, string) {
	switch kind {
	case gateway.KindBadRequest:
		return http.StatusBadRequest, "bad_request"
	case gateway.KindAdmissionDenied:
		return http.StatusForbidden, "limit_reached"
	case gateway.KindQuotaUnavailable:
		return http.StatusServiceUnavailable, "quota_unavailable"
	case gateway.KindUpstreamAuth:
		return http.StatusBadGateway, "upstream_auth"
	case gateway.KindUpstreamOverload:
		return http.StatusServiceUnavailable, "upstream_overloaded"
	case gateway.KindUpstreamMalformed:
		return http.StatusBadGateway, "upstream_malformed"
	case gateway.KindPersistence:
		return http.StatusInternalServerError, "persistence_error"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}
