package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kadirpekel/tonetuner/pkg/converter"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	Attempts          int    `json:"attempts,omitempty"`
}

// statusForKind maps conversion failures to HTTP status codes.
func statusForKind(kind converter.Kind) int {
	switch kind {
	case converter.KindValidation:
		return http.StatusBadRequest
	case converter.KindQuotaExceeded:
		return http.StatusForbidden
	case converter.KindRateLimited:
		return http.StatusTooManyRequests
	case converter.KindUpstreamAuth, converter.KindUpstreamNotFound:
		return http.StatusBadGateway
	case converter.KindUpstreamTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeConvertError(w http.ResponseWriter, err error) {
	var convErr *converter.Error
	if !errors.As(err, &convErr) {
		slog.Error("Conversion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	status := statusForKind(convErr.Kind)
	if status >= 500 {
		slog.Warn("Conversion failed", "kind", convErr.Kind, "attempts", convErr.Attempts, "error", convErr.Err)
	}

	if result := ratelimit.DeniedBy(err); result != nil {
		ratelimit.SetHeaders(w, result)
	}
	if convErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(convErr.RetryAfterSeconds, 10))
	}

	// upstream details stay in the log except for validation failures
	msg := convErr.Message
	if convErr.Kind == converter.KindValidation && convErr.Err != nil {
		msg = convErr.Message + ": " + convErr.Err.Error()
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:              string(convErr.Kind),
		Message:           msg,
		RetryAfterSeconds: convErr.RetryAfterSeconds,
		Attempts:          convErr.Attempts,
	}})
}

func writeStorageError(w http.ResponseWriter, err error) {
	slog.Error("Storage error", "error", err)
	writeError(w, http.StatusServiceUnavailable, string(converter.KindStorage), "counter store unavailable")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
