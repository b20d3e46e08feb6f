package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"idverify/internal/verification/models"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/httputil"
	"idverify/pkg/requestcontext"
)

// Service defines the interface for recording behavioral telemetry.
type Service interface {
	RecordSignals(ctx context.Context, orgID uuid.UUID, sig *models.BehavioralSignals, userAgent string) error
}

// Handler serves the telemetry submission endpoint.
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

// Register mounts telemetry endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications/{id}/signals", h.HandleRecordSignals)
}

// HandleRecordSignals handles POST /verifications/{id}/signals requests.
func (h *Handler) HandleRecordSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	orgID := requestcontext.OrganizationID(ctx)
	if orgID == uuid.Nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "organization required"))
		return
	}

	verificationID, err := ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[RecordSignalsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.RecordSignals(ctx, orgID, req.ToSignals(verificationID), r.UserAgent()); err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to record signals",
				"request_id", requestID,
				"verification_id", verificationID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
