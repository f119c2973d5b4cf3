// Package httputil provides the JSON envelope and request-parsing helpers
// shared by every hub service's HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/logging"
)

// ErrorResponse is the wire shape of the standard error envelope:
// {"error":{"code","message",...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the code/message/detail fields nested under "error".
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("write json response")
	}
}

// WriteError renders any error as the standard JSON error envelope, folding
// unknown error types into the generic "internal" code.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal("internal server error", err)
	}

	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
	}

	traceID := ""
	if r != nil {
		traceID = logging.GetTraceID(r.Context())
	}

	WriteJSON(w, appErr.HTTPStatus, ErrorResponse{
		Error: ErrorBody{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
			TraceID: traceID,
		},
	})
}

// DecodeJSON decodes a JSON request body into v. On failure it writes the
// error envelope and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, r, apperrors.Validation("request body too large").WithDetails("limit_bytes", maxErr.Limit))
			return false
		}
		WriteError(w, r, apperrors.Validation("invalid request body"))
		return false
	}
	return true
}

// DecodeJSONOptional decodes a JSON request body into v when present,
// returning true when the body is empty.
func DecodeJSONOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return true
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, r, apperrors.Validation("request body too large").WithDetails("limit_bytes", maxErr.Limit))
			return false
		}
		WriteError(w, r, apperrors.Validation("invalid request body"))
		return false
	}
	return true
}

// PathParamAt extracts a path segment at the given index (0-based).
func PathParamAt(path string, index int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if index >= 0 && index < len(parts) {
		return parts[index]
	}
	return ""
}

// QueryInt extracts an integer query parameter with a default value.
func QueryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return defaultVal
}

// QueryString extracts a string query parameter with a default value.
func QueryString(r *http.Request, key, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// QueryBool extracts a boolean query parameter with a default value.
func QueryBool(r *http.Request, key string, defaultVal bool) bool {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1" || val == "yes"
}

// PaginationParams extracts offset/limit query parameters, clamped to maxLimit.
func PaginationParams(r *http.Request, defaultLimit, maxLimit int) (offset, limit int) {
	offset = QueryInt(r, "offset", 0)
	limit = QueryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// GetRole extracts the caller's role from the request context, populated by
// the gateway's identity-extraction middleware from x-lokan-role.
func GetRole(r *http.Request) string {
	return logging.GetRole(r.Context())
}

// GetSubject extracts the caller's subject from the request context,
// populated from x-lokan-subject.
func GetSubject(r *http.Request) string {
	return logging.GetSubject(r.Context())
}
