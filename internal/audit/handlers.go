package audit

import (
	"net/http"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
	httputil "github.com/lokanos/hub/internal/httpkit"
)

// Handlers exposes a Writer's submission, export, and verification surface
// over HTTP.
type Handlers struct {
	writer *Writer
}

// NewHandlers builds Handlers over writer.
func NewHandlers(writer *Writer) *Handlers {
	return &Handlers{writer: writer}
}

// Submit handles POST /v1/events, appending the request body as a new
// hash-chained record.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	var event Event
	if !httputil.DecodeJSON(w, r, &event) {
		return
	}
	record, err := h.writer.Append(event)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, record)
}

// Export handles GET /v1/events/export, filtering on actor/action/resource/
// outcome/since query parameters.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Actor:    q.Get("actor"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
		Outcome:  q.Get("outcome"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteError(w, r, apperrors.Validation("since must be RFC3339").WithDetails("since", since))
			return
		}
		filter.Since = t
	}

	records, err := h.writer.Export(filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

type verifyResponse struct {
	Intact          bool `json:"intact"`
	RecordCount     int  `json:"recordCount"`
	FirstBrokenLine int  `json:"firstBrokenLine,omitempty"`
}

// Verify handles GET /v1/audit/verify, recomputing the hash chain over every
// record currently on disk.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	records, err := h.writer.ReadAll()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	broken := VerifyChain(records)
	resp := verifyResponse{Intact: broken == -1, RecordCount: len(records)}
	if broken != -1 {
		resp.FirstBrokenLine = broken + 1
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
