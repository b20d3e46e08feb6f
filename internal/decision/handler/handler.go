package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/httputil"
	"idverify/pkg/requestcontext"
)

// Service defines the interface for starting verification processing.
type Service interface {
	StartProcessing(ctx context.Context, orgID, verificationID uuid.UUID) error
}

// Handler wires the processing endpoint to the processor.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a processing handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts processing endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications/{id}/process", h.HandleProcess)
}

// HandleProcess handles POST /verifications/{id}/process requests.
// The decision runs in the background; the response only confirms it was queued.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

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

	if err := h.service.StartProcessing(ctx, orgID, verificationID); err != nil {
		level := slog.LevelWarn
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "failed to start processing",
			"request_id", requestID,
			"organization_id", orgID,
			"verification_id", verificationID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verification processing started",
		"request_id", requestID,
		"organization_id", orgID,
		"verification_id", verificationID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusAccepted, NewProcessResponse(verificationID))
}
