package middleware

import (
	"net/http"
	"strings"

	httpkit "github.com/lokanos/hub/internal/httpkit"
	"github.com/lokanos/hub/internal/logging"
	svcruntime "github.com/lokanos/hub/internal/svcruntime"
)

// Role is one of the four roles in the gateway's inheritance hierarchy.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

var knownRoles = map[string]Role{
	"owner":  RoleOwner,
	"admin":  RoleAdmin,
	"member": RoleMember,
	"guest":  RoleGuest,
}

const (
	roleHeader    = "x-lokan-role"
	subjectHeader = "x-lokan-subject"
)

// IdentityMiddleware extracts the caller's role and subject from the
// x-lokan-role/x-lokan-subject headers set by the mTLS-terminating reverse
// proxy and attaches them to the request context for RBAC and audit
// logging to consume downstream.
//
// Unknown or missing roles default to guest; a missing subject defaults to
// "anonymous" rather than being rejected here — RBAC denies by default, so an
// anonymous guest simply won't match any but the most permissive rules.
//
// In svcruntime.StrictIdentityMode, the headers are only trusted when the
// connection itself carries a verified mTLS client certificate; otherwise
// they are ignored and the caller is treated as an anonymous guest. This
// prevents a client that reaches the gateway directly from spoofing its way
// past RBAC.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := RoleGuest
		subject := "anonymous"

		trusted := !svcruntime.StrictIdentityMode() || hasVerifiedMTLS(r)
		if trusted {
			if parsed, ok := knownRoles[strings.ToLower(strings.TrimSpace(r.Header.Get(roleHeader)))]; ok {
				role = parsed
			}
			if s := strings.TrimSpace(r.Header.Get(subjectHeader)); s != "" {
				subject = s
			}
		}

		ctx := logging.WithRole(r.Context(), string(role))
		ctx = logging.WithSubject(ctx, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func hasVerifiedMTLS(r *http.Request) bool {
	return r.TLS != nil && len(r.TLS.VerifiedChains) > 0
}

// RoleFromContext is a convenience re-export so handlers can read the role
// without importing internal/httpkit directly.
func RoleFromContext(r *http.Request) string {
	return httpkit.GetRole(r)
}
