package radio

import (
	"net/http"

	httputil "github.com/lokanos/hub/internal/httpkit"
	"github.com/lokanos/hub/internal/logging"
)

// Handlers wires a Coordinator to the radio-coord HTTP routes.
type Handlers struct {
	coordinator *Coordinator
	logger      *logging.Logger
}

// NewHandlers builds route handlers backed by coordinator.
func NewHandlers(coordinator *Coordinator, logger *logging.Logger) *Handlers {
	return &Handlers{coordinator: coordinator, logger: logger}
}

func (h *Handlers) accepted(w http.ResponseWriter, r *http.Request, ack Acknowledgement, err error) {
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, ack)
}

// ApplyThreadDataset handles POST /v1/thread/dataset.
func (h *Handlers) ApplyThreadDataset(w http.ResponseWriter, r *http.Request) {
	var req ThreadDatasetRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	ack, err := h.coordinator.ApplyThreadDataset(r.Context(), req)
	h.accepted(w, r, ack, err)
}

// UpdateThreadChannel handles POST /v1/thread/channel.
func (h *Handlers) UpdateThreadChannel(w http.ResponseWriter, r *http.Request) {
	var req ThreadChannelRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	ack, err := h.coordinator.UpdateThreadChannel(r.Context(), req)
	h.accepted(w, r, ack, err)
}

// ApplyWifiConfig handles POST /v1/wifi/config.
func (h *Handlers) ApplyWifiConfig(w http.ResponseWriter, r *http.Request) {
	var req WifiConfigRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	ack, err := h.coordinator.ApplyWifiConfig(r.Context(), req)
	h.accepted(w, r, ack, err)
}

// UpdateWifiChannel handles POST /v1/wifi/channel.
func (h *Handlers) UpdateWifiChannel(w http.ResponseWriter, r *http.Request) {
	var req WifiChannelRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	ack, err := h.coordinator.UpdateWifiChannel(r.Context(), req)
	h.accepted(w, r, ack, err)
}

// RadioMap handles GET /v1/diag/radio-map.
func (h *Handlers) RadioMap(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.coordinator.Snapshot())
}
