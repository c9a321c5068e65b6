package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalityhub/platform/libs/httpx"
)

// ExportReport returns a usage report. Routing wraps it in the analytics gate,
// so reaching this handler means the feature is allowed.
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	establishmentID, ok := targetEstablishment(w, r, "")
	if !ok {
		return
	}
	ent, err := h.subs.Entitlement(r.Context(), establishmentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"report_id":    uuid.NewString(),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"entitlement":  ent.Report(),
	})
}
