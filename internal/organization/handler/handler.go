// Package handler exposes operator endpoints for organization verification
// rules and webhook subscriptions.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"idverify/internal/organization/models"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/httputil"
	"idverify/pkg/requestcontext"
)

// Service defines the organization settings operations the handler needs.
type Service interface {
	Rules(ctx context.Context, orgID uuid.UUID) (models.EffectiveRules, error)
	SaveRules(ctx context.Context, r *models.VerificationRules) error
	SaveSubscription(ctx context.Context, sub *models.WebhookSubscription) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the settings endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/organizations/{orgID}/rules", h.HandleGetRules)
	r.Put("/organizations/{orgID}/rules", h.HandlePutRules)
	r.Put("/organizations/{orgID}/webhook", h.HandlePutWebhook)
}

// HandleGetRules returns the effective rules, defaults included.
func (h *Handler) HandleGetRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rules, err := h.service.Rules(ctx, orgID)
	if err != nil {
		h.fail(ctx, w, "failed to load rules", orgID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rules)
}

// HandlePutRules replaces the stored rule configuration and returns the
// resulting effective rules.
func (h *Handler) HandlePutRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	orgID, err := ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateRulesRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	stored := req.ToRules(orgID)
	if err := h.service.SaveRules(ctx, stored); err != nil {
		h.fail(ctx, w, "failed to save rules", orgID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stored.Effective())
}

// HandlePutWebhook replaces the organization's webhook subscription.
func (h *Handler) HandlePutWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	orgID, err := ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateWebhookRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.SaveSubscription(ctx, req.ToSubscription(orgID)); err != nil {
		h.fail(ctx, w, "failed to save webhook subscription", orgID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, orgID uuid.UUID, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"organization_id", orgID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
