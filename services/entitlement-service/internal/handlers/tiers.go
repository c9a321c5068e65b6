package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.catalog.Export())
}

// TierConfig exports (GET) or replaces (PUT) the catalog document. PUT accepts
// YAML or JSON and either adopts the whole document or nothing.
func (h *Handler) TierConfig(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.exportTierConfig(w, r)
	case http.MethodPut:
		h.replaceTierConfig(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) exportTierConfig(w http.ResponseWriter, r *http.Request) {
	doc := h.catalog.Export()
	if !strings.Contains(r.Header.Get("Accept"), "yaml") {
		httpx.WriteJSON(w, http.StatusOK, doc)
		return
	}
	raw, err := tiers.EncodeDocumentYAML(doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) replaceTierConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxCatalogBytes+1))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "could not read body", nil)
		return
	}
	if int64(len(raw)) > h.cfg.MaxCatalogBytes {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "too_large", "catalog document is too large", nil)
		return
	}

	doc, err := tiers.DecodeDocumentYAML(raw)
	if err == nil {
		err = h.catalog.Replace(doc)
	}
	if h.onCatalogReplace != nil {
		h.onCatalogReplace(err)
	}
	if err != nil {
		if errors.Is(err, tiers.ErrInvalidCatalog) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_catalog", "catalog rejected, nothing was changed", problems(err))
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("tier catalog replaced", "version", h.catalog.Version(), "user_id", actorFrom(r).ID)
	httpx.WriteJSON(w, http.StatusOK, h.catalog.Export())
}

// problems flattens a joined validation error into one message per problem.
func problems(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
