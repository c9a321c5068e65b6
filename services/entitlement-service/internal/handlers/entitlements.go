package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

func (h *Handler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	establishmentID, ok := targetEstablishment(w, r, r.URL.Query().Get("establishment_id"))
	if !ok {
		return
	}
	ent, err := h.subs.Entitlement(r.Context(), establishmentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ent.Report())
}

type authorizeRequest struct {
	EstablishmentID string `json:"establishment_id"`
	Resource        string `json:"resource"`
	Amount          int    `json:"amount"`
}

// Authorize is the check mutation endpoints call before adding employees, menu
// items or orders.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body", nil)
		return
	}
	establishmentID, ok := targetEstablishment(w, r, req.EstablishmentID)
	if !ok {
		return
	}
	resource, err := tiers.ParseResource(req.Resource)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	if req.Amount < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_amount", "amount must be positive", nil)
		return
	}

	ent, err := h.subs.Authorize(r.Context(), establishmentID, resource, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := map[string]any{
		"allowed":  true,
		"resource": resource,
		"tier":     ent.Tier.ID,
	}
	if n, unlimited := ent.Headroom(resource); !unlimited {
		resp["remaining"] = n
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// GetFeature is the read the dashboards use; gated mutations go through the
// same Evaluate via featuregate.Gate.Require.
func (h *Handler) GetFeature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	establishmentID, ok := targetEstablishment(w, r, r.URL.Query().Get("establishment_id"))
	if !ok {
		return
	}
	flag := strings.TrimSpace(r.URL.Query().Get("flag"))
	httpx.WriteJSON(w, http.StatusOK, h.gate.Evaluate(r.Context(), establishmentID, flag))
}
