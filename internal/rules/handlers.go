package rules

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lokanos/hub/internal/apperrors"
	httputil "github.com/lokanos/hub/internal/httpkit"
	"github.com/lokanos/hub/internal/logging"
)

// traceStreamUpgrader allows any origin since this endpoint sits behind the
// gateway's RBAC pipeline, not a browser same-origin boundary.
var traceStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const traceStreamWriteWait = 10 * time.Second

// Handlers exposes the rule engine over HTTP: rule CRUD and the diagnostic
// trace endpoint.
type Handlers struct {
	engine *Engine
	logger *logging.Logger
}

// NewHandlers builds Handlers for engine. logger may be nil.
func NewHandlers(engine *Engine, logger *logging.Logger) *Handlers {
	return &Handlers{engine: engine, logger: logger}
}

// RegisterRule handles POST /v1/rules.
func (h *Handlers) RegisterRule(w http.ResponseWriter, r *http.Request) {
	var def Definition
	if !httputil.DecodeJSON(w, r, &def) {
		return
	}
	if err := h.engine.Register(def); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, def)
}

// ListRules handles GET /v1/rules.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.engine.List())
}

// DeleteRule handles DELETE /v1/rules?id=..., taking id as a query parameter
// to keep routing symmetric with the trace endpoint.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.WriteError(w, r, apperrors.Validation("id query parameter is required"))
		return
	}
	h.engine.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// traceResponse is the wire shape of GET /v1/diag/trace.
type traceResponse struct {
	RuleID  string       `json:"ruleId"`
	Entries []TraceEntry `json:"entries"`
}

// Trace handles GET /v1/diag/trace?rule_id=..., returning the rule's trace
// history newest-first.
func (h *Handlers) Trace(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("rule_id")
	if ruleID == "" {
		httputil.WriteError(w, r, apperrors.Validation("rule_id query parameter is required"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, traceResponse{
		RuleID:  ruleID,
		Entries: h.engine.Trace(ruleID),
	})
}

// TraceStream handles GET /v1/diag/trace/stream, upgrading to a WebSocket
// and pushing every trace entry recorded from connection time onward,
// optionally filtered to a single rule_id.
func (h *Handlers) TraceStream(w http.ResponseWriter, r *http.Request) {
	ruleFilter := r.URL.Query().Get("rule_id")

	conn, err := traceStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("trace stream upgrade failed")
		}
		return
	}
	defer conn.Close()

	entries, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	for broadcast := range entries {
		if ruleFilter != "" && broadcast.RuleID != ruleFilter {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(traceStreamWriteWait))
		if err := conn.WriteJSON(broadcast); err != nil {
			return
		}
	}
}
