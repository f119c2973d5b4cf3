// Package middleware provides the HTTP middleware chain shared by hub services.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/lokanos/hub/internal/apperrors"
	httpkit "github.com/lokanos/hub/internal/httpkit"
	"github.com/lokanos/hub/internal/logging"
)

// RecoveryMiddleware recovers from panics in downstream handlers, logs the
// stack trace, and renders the standard error envelope instead of crashing
// the listener goroutine.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

// NewRecoveryMiddleware creates a recovery middleware bound to logger.
func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":  fmt.Sprintf("%v", recovered),
					"stack":  string(stack),
					"route":  r.URL.Path,
					"method": r.Method,
				}).Error("panic recovered")

				httpkit.WriteError(w, r, apperrors.Internal("internal server error", fmt.Errorf("%v", recovered)))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
