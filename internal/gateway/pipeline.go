// Package gateway assembles the hub's inbound enforcement pipeline: identity
// extraction, burst guarding, rate limiting, RBAC authorization, audit
// logging, and metrics, wrapped around the routed domain handlers.
package gateway

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/audit"
	"github.com/lokanos/hub/internal/burstguard"
	httputil "github.com/lokanos/hub/internal/httpkit"
	"github.com/lokanos/hub/internal/logging"
	"github.com/lokanos/hub/internal/middleware"
	"github.com/lokanos/hub/internal/obsmetrics"
	"github.com/lokanos/hub/internal/ratelimit"
	"github.com/lokanos/hub/internal/rbac"
)

const requestIDHeader = "x-request-id"

// Pipeline wires the policy collaborators enforced on every gateway request.
type Pipeline struct {
	service     string
	policy      *rbac.Policy
	limiter     *ratelimit.Limiter
	burst       *burstguard.Guard
	auditWriter *audit.Writer
	metrics     *obsmetrics.Metrics
	logger      *logging.Logger
}

// New builds a Pipeline. burst, limiter, and metrics may be nil to disable
// that stage (tests commonly disable the burst guard).
func New(service string, policy *rbac.Policy, limiter *ratelimit.Limiter, burst *burstguard.Guard, auditWriter *audit.Writer, metrics *obsmetrics.Metrics, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		service:     service,
		policy:      policy,
		limiter:     limiter,
		burst:       burst,
		auditWriter: auditWriter,
		metrics:     metrics,
		logger:      logger,
	}
}

// Wrap applies the full enforcement pipeline around next, to be registered
// per-route so the resolved mux route template is available for metrics and
// the audit action label.
func (p *Pipeline) Wrap(next http.Handler) http.Handler {
	return middleware.IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		r.Header.Set(requestIDHeader, requestID)
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		route := routeTemplate(r)
		role := middleware.Role(logging.GetRole(r.Context()))
		subject := logging.GetSubject(r.Context())

		if p.burst != nil && !p.burst.Allow() {
			w.Header().Set("Retry-After", "1")
			p.respondAndAudit(w, r, route, subject, string(role), http.StatusTooManyRequests,
				apperrors.RateLimited(time.Second), "throttle", "")
			p.recordMetrics(route, http.StatusTooManyRequests, start)
			return
		}

		if p.limiter != nil {
			if err := p.limiter.Check(); err != nil {
				p.respondAndAudit(w, r, route, subject, string(role), apperrors.HTTPStatus(err),
					err, "throttle", "")
				p.recordMetrics(route, apperrors.HTTPStatus(err), start)
				return
			}
		}

		decision := rbac.Decision{Allowed: true}
		if p.policy != nil {
			decision = p.policy.Authorize(role, r.Method, r.URL.Path)
		}
		if !decision.Allowed {
			p.respondAndAudit(w, r, route, subject, string(role), http.StatusForbidden,
				apperrors.Forbidden("access denied by policy"), "deny", decision.AuditAction)
			p.recordMetrics(route, http.StatusForbidden, start)
			return
		}

		wrapped := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		p.appendAudit(r, subject, string(role), "allow", decision.AuditAction, wrapped.status)
		p.recordMetrics(route, wrapped.status, start)
	}))
}

func (p *Pipeline) respondAndAudit(w http.ResponseWriter, r *http.Request, route, subject, role string, status int, err error, outcome, auditAction string) {
	httputil.WriteError(w, r, err)
	p.appendAudit(r, subject, role, outcome, auditAction, status)
}

func (p *Pipeline) appendAudit(r *http.Request, subject, role, outcome, auditAction string, status int) {
	if p.auditWriter == nil {
		return
	}
	action := auditAction
	if action == "" {
		action = r.Method
	}
	_, err := p.auditWriter.Append(audit.Event{
		Actor:    subject,
		Role:     role,
		Action:   action,
		Resource: r.URL.Path,
		Outcome:  outcome,
		Detail:   map[string]interface{}{"status": status, "request_id": r.Header.Get(requestIDHeader)},
	})
	if err != nil && p.logger != nil {
		p.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("audit append failed")
	}
}

func (p *Pipeline) recordMetrics(route string, status int, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordHTTPRequest(route, strconv.Itoa(status), time.Since(start))
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack forwards to the underlying ResponseWriter so a websocket upgrade
// behind the pipeline can take over the connection.
func (w *statusCapturingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("gateway: underlying ResponseWriter does not support hijacking")
	}
	return hijacker.Hijack()
}
