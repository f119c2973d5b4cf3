package rbac

import (
	"net/http"

	httputil "github.com/lokanos/hub/internal/httpkit"
)

// Handlers exposes a Policy's read-only diagnostics surface over HTTP.
type Handlers struct {
	policy *Policy
}

// NewHandlers builds Handlers over policy.
func NewHandlers(policy *Policy) *Handlers {
	return &Handlers{policy: policy}
}

// Routes handles GET /v1/diag/routes, listing every loaded rule sorted by
// pattern.
func (h *Handlers) Routes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.policy.Summaries())
}
