package updater

import (
	"net/http"

	"github.com/lokanos/hub/internal/apperrors"
	httputil "github.com/lokanos/hub/internal/httpkit"
	"github.com/lokanos/hub/internal/logging"
)

// Handlers exposes a Service over HTTP.
type Handlers struct {
	service *Service
	logger  *logging.Logger
}

// NewHandlers builds Handlers for service. logger may be nil.
func NewHandlers(service *Service, logger *logging.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

type stageRequest struct {
	BundlePath string `json:"bundlePath"`
	Artifact   string `json:"artifact"`
	Target     *Slot  `json:"target,omitempty"`
}

type slotResponse struct {
	Slot Slot `json:"slot"`
}

// Stage handles POST /v1/update/stage.
func (h *Handlers) Stage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BundlePath == "" {
		httputil.WriteError(w, r, apperrors.Validation("bundlePath is required"))
		return
	}
	slot, err := h.service.StageBundle(r.Context(), req.BundlePath, req.Artifact, req.Target)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, slotResponse{Slot: slot})
}

type commitResponse struct {
	Slot    Slot `json:"slot"`
	Healthy bool `json:"healthy"`
}

// Commit handles POST /v1/update/commit: begins the commit, waits for the
// configured health quorum, and finalizes or marks the slot bad.
func (h *Handlers) Commit(w http.ResponseWriter, r *http.Request) {
	slot, healthy, err := h.service.Commit(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if !healthy && h.logger != nil {
		h.logger.WithFields(map[string]interface{}{"slot": string(slot)}).Warn("commit failed health gate, slot marked bad")
	}
	httputil.WriteJSON(w, http.StatusOK, commitResponse{Slot: slot, Healthy: healthy})
}

// Rollback handles POST /v1/update/rollback.
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	slot, err := h.service.Rollback(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, slotResponse{Slot: slot})
}

// Status handles GET /v1/update/status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.Snapshot())
}
