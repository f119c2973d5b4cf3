package commissioning

import (
	"net/http"

	httputil "github.com/lokanos/hub/internal/httpkit"
	"github.com/lokanos/hub/internal/logging"
)

// Handlers exposes the commissioning Service over HTTP.
type Handlers struct {
	service *Service
	logger  *logging.Logger
}

// NewHandlers builds Handlers for service. logger may be nil.
func NewHandlers(service *Service, logger *logging.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// Handshake handles POST /v1/commissioning/ble/handshake.
func (h *Handlers) Handshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	resp, err := h.service.Handshake(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// SubmitCSR handles POST /v1/commissioning/csr.
func (h *Handlers) SubmitCSR(w http.ResponseWriter, r *http.Request) {
	var req CSRRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	resp, err := h.service.SubmitCSR(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// VerifyCredentials handles POST /v1/commissioning/verify.
func (h *Handlers) VerifyCredentials(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	resp, err := h.service.VerifyCredentials(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
