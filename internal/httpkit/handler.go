package httputil

import (
	"context"
	"net/http"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/logging"
)

func handleError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger != nil {
		logger.WithContext(r.Context()).WithFields(map[string]interface{}{"error": err.Error()}).Error("handler failed")
	}
	WriteError(w, r, err)
}

// HandleJSON decodes a JSON request body into Req, calls fn, and writes the
// result as a JSON response, eliminating decode/execute/respond boilerplate.
func HandleJSON[Req any, Resp any](
	logger *logging.Logger,
	fn func(ctx context.Context, req *Req) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if !DecodeJSON(w, r, &req) {
			return
		}
		resp, err := fn(r.Context(), &req)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleNoBody handles requests that carry no JSON body (typically GET).
func HandleNoBody[Resp any](
	logger *logging.Logger,
	fn func(ctx context.Context) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r.Context())
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// RequireRole extracts the caller's role, writing a 403 and returning false
// unless it is one of allowed.
func RequireRole(w http.ResponseWriter, r *http.Request, allowed ...string) (string, bool) {
	role := GetRole(r)
	for _, a := range allowed {
		if role == a {
			return role, true
		}
	}
	WriteError(w, r, apperrors.Forbidden("role not permitted"))
	return role, false
}
