package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/transitions"
)

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	establishmentID, ok := targetEstablishment(w, r, r.URL.Query().Get("establishment_id"))
	if !ok {
		return
	}
	sub, err := h.subs.Subscription(r.Context(), establishmentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewSubscription(sub))
}

type transitionRequest struct {
	EstablishmentID string `json:"establishment_id"`
	Kind            string `json:"kind"`
	RequestedTier   string `json:"requested_tier"`
}

// parseTransition validates the request shape before any establishment is touched.
func parseTransition(w http.ResponseWriter, kindRaw, tierRaw string) (transitions.Request, bool) {
	kind, err := transitions.ParseKind(kindRaw)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "unknown_kind", "kind must be one of upgrade, downgrade, cancel, renew, reactivate", nil)
		return transitions.Request{}, false
	}
	if kind.SystemOnly() {
		httpx.WriteError(w, http.StatusBadRequest, "unknown_kind", string(kind)+" is run by the platform only", nil)
		return transitions.Request{}, false
	}
	req := transitions.Request{Kind: kind}
	if kind.NeedsTarget() {
		target, err := tiers.ParseTierID(tierRaw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "unknown_tier", err.Error(), nil)
			return transitions.Request{}, false
		}
		req.Target = target
	}
	return req, true
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body", nil)
		return
	}
	establishmentID, ok := targetEstablishment(w, r, body.EstablishmentID)
	if !ok {
		return
	}
	req, ok := parseTransition(w, body.Kind, body.RequestedTier)
	if !ok {
		return
	}

	sub, err := h.subs.Transition(r.Context(), establishmentID, req, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewSubscription(sub))
}

func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	var body struct {
		EstablishmentID string `json:"establishment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body", nil)
		return
	}
	establishmentID, ok := targetEstablishment(w, r, body.EstablishmentID)
	if !ok {
		return
	}
	sub, created, err := h.subs.Onboard(r.Context(), establishmentID, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	httpx.WriteJSON(w, code, viewSubscription(sub))
}

type bulkSubscriptionsRequest struct {
	EstablishmentIDs []string `json:"establishment_ids"`
	Operation        string   `json:"operation"`
	RequestedTier    string   `json:"requested_tier"`
}

// BulkSubscriptions applies one transition to many establishments. The response
// is the authoritative per-item outcome; callers reconcile their view from it.
func (h *Handler) BulkSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	var body bulkSubscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body", nil)
		return
	}
	if !h.checkBulkSize(w, body.EstablishmentIDs) {
		return
	}
	req, ok := parseTransition(w, body.Operation, body.RequestedTier)
	if !ok {
		return
	}

	actor := actorFrom(r)
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.BulkTimeout)
	defer cancel()
	res := h.bulk.ApplyToMany(ctx, body.EstablishmentIDs, bulk.Operation{
		Name: string(req.Kind),
		Apply: func(ctx context.Context, id string) error {
			_, err := h.subs.Transition(ctx, id, req, actor)
			return err
		},
	})
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) checkBulkSize(w http.ResponseWriter, ids []string) bool {
	n := len(bulk.Distinct(ids))
	if n == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "empty_batch", "at least one id is required", nil)
		return false
	}
	if n > h.cfg.MaxBulkItems {
		httpx.WriteError(w, http.StatusBadRequest, "batch_too_large", "too many ids in one batch", map[string]int{"max": h.cfg.MaxBulkItems, "got": n})
		return false
	}
	return true
}
