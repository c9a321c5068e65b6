package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
)

type bulkEmployeeStatusRequest struct {
	EmployeeIDs []string `json:"employee_ids"`
	Status      string   `json:"status"`
}

func (h *Handler) BulkEmployeeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	var body bulkEmployeeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body", nil)
		return
	}
	status, err := model.ParseEmployeeStatus(body.Status)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_status", err.Error(), nil)
		return
	}
	if !h.checkBulkSize(w, body.EmployeeIDs) {
		return
	}

	actor := actorFrom(r)
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.BulkTimeout)
	defer cancel()
	res := h.bulk.ApplyToMany(ctx, body.EmployeeIDs, bulk.Operation{
		Name: "employee_" + string(status),
		Apply: func(ctx context.Context, id string) error {
			_, err := h.staff.SetStatus(ctx, id, status, actor)
			return err
		},
	})
	httpx.WriteJSON(w, http.StatusOK, res)
}
