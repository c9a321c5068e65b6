package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/entitlements"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/featuregate"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/transitions"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

const (
	roleAdmin   = "admin"
	roleOwner   = "owner"
	roleManager = "manager"
)

type Subscriptions interface {
	Transition(ctx context.Context, establishmentID string, req transitions.Request, actor model.Actor) (model.Subscription, error)
	Onboard(ctx context.Context, establishmentID string, actor model.Actor) (model.Subscription, bool, error)
	Subscription(ctx context.Context, establishmentID string) (model.Subscription, error)
	Entitlement(ctx context.Context, establishmentID string) (entitlements.Entitlement, error)
	Authorize(ctx context.Context, establishmentID string, r tiers.Resource, amount int) (entitlements.Entitlement, error)
}

type Staff interface {
	SetStatus(ctx context.Context, employeeID string, status model.EmployeeStatus, actor model.Actor) (model.Employee, error)
}

type FeatureGate interface {
	Evaluate(ctx context.Context, establishmentID, flag string) featuregate.Decision
}

type Config struct {
	MaxBulkItems    int
	BulkTimeout     time.Duration
	MaxCatalogBytes int64
}

type Handler struct {
	subs    Subscriptions
	staff   Staff
	gate    FeatureGate
	catalog *tiers.Catalog
	bulk    *bulk.Coordinator
	logger  *slog.Logger
	cfg     Config

	onUsageUnavailable func()
	onCatalogReplace   func(error)
}

func New(subs Subscriptions, staff Staff, gate FeatureGate, catalog *tiers.Catalog, coord *bulk.Coordinator, logger *slog.Logger, cfg Config) *Handler {
	if cfg.MaxBulkItems <= 0 {
		cfg.MaxBulkItems = 500
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = 30 * time.Second
	}
	if cfg.MaxCatalogBytes <= 0 {
		cfg.MaxCatalogBytes = 256 << 10
	}
	return &Handler{subs: subs, staff: staff, gate: gate, catalog: catalog, bulk: coord, logger: logger, cfg: cfg}
}

// OnUsageUnavailable registers a hook for requests denied because usage was unknown.
func (h *Handler) OnUsageUnavailable(fn func()) { h.onUsageUnavailable = fn }

func (h *Handler) OnCatalogReplace(fn func(error)) { h.onCatalogReplace = fn }

func role(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
}

func establishmentIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Establishment-Id"))
}

func actorFrom(r *http.Request) model.Actor {
	typ := model.ActorUser
	if role(r) == roleAdmin {
		typ = model.ActorAdmin
	}
	return model.Actor{Type: typ, ID: strings.TrimSpace(r.Header.Get("X-User-Id"))}
}

// targetEstablishment resolves which establishment the caller acts on. Admins
// may name any establishment; everyone else is pinned to their own.
func targetEstablishment(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	own := establishmentIDFromHeader(r)
	if requested == "" {
		requested = own
	}
	if requested == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_establishment", "establishment_id is required", nil)
		return "", false
	}
	switch role(r) {
	case roleAdmin:
		return requested, true
	case roleOwner, roleManager:
		if own != requested {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "you can only act on your own establishment", nil)
			return "", false
		}
		return requested, true
	default:
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "role not allowed", nil)
		return "", false
	}
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if role(r) != roleAdmin {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "admin role required", nil)
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
}

type problem struct {
	status  int
	code    string
	message string
	detail  any
}

func classify(err error) problem {
	var te *transitions.Error
	var le *entitlements.LimitError
	switch {
	case errors.As(err, &te):
		return problem{http.StatusConflict, "invalid_transition", te.Message(), te}
	case errors.As(err, &le):
		return problem{http.StatusPaymentRequired, "limit_reached", le.Error(), le}
	case errors.Is(err, tiers.ErrUnknownTier):
		return problem{http.StatusBadRequest, "unknown_tier", err.Error(), nil}
	case errors.Is(err, tiers.ErrUnknownResource):
		return problem{http.StatusBadRequest, "unknown_resource", err.Error(), nil}
	case errors.Is(err, usage.ErrUsageUnavailable):
		return problem{http.StatusServiceUnavailable, "usage_unavailable", "can't verify your limits right now", nil}
	case errors.Is(err, model.ErrNotFound):
		return problem{http.StatusNotFound, "not_found", err.Error(), nil}
	case errors.Is(err, model.ErrConflict):
		return problem{http.StatusConflict, "conflict", "the subscription was changed by someone else, reload and retry", nil}
	default:
		return problem{http.StatusInternalServerError, "internal", "internal error", nil}
	}
}

// DescribeError gives bulk items the same codes the single-item endpoints return.
func DescribeError(err error) (string, any) {
	p := classify(err)
	return p.code, p.detail
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := classify(err)
	switch p.status {
	case http.StatusServiceUnavailable:
		if h.onUsageUnavailable != nil {
			h.onUsageUnavailable()
		}
		h.logger.Warn("usage unavailable", "path", r.URL.Path, "err", err)
	case http.StatusInternalServerError:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	httpx.WriteError(w, p.status, p.code, p.message, p.detail)
}

type subscriptionView struct {
	EstablishmentID string `json:"establishment_id"`
	Tier            string `json:"tier"`
	Status          string `json:"status"`
	BillingCycle    string `json:"billing_cycle"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	AutoRenew       bool   `json:"auto_renew"`
	Version         int64  `json:"version"`
}

func viewSubscription(s model.Subscription) subscriptionView {
	return subscriptionView{
		EstablishmentID: s.EstablishmentID,
		Tier:            string(s.Tier),
		Status:          string(s.Status),
		BillingCycle:    string(s.Cycle),
		StartDate:       s.StartDate.UTC().Format(time.RFC3339),
		EndDate:         s.EndDate.UTC().Format(time.RFC3339),
		AutoRenew:       s.AutoRenew,
		Version:         s.Version,
	}
}
