// Package tenant resolves the calling organization. Authentication happens
// at the gateway, which forwards the organization as a header.
package tenant

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/httputil"
	request "idverify/pkg/platform/middleware/request"
	"idverify/pkg/requestcontext"
)

// HeaderOrganizationID carries the authenticated organization.
const HeaderOrganizationID = "X-Organization-ID"

// RequireOrganization rejects requests without a valid organization header
// and stores the organization in the context otherwise.
func RequireOrganization(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := strings.TrimSpace(r.Header.Get(HeaderOrganizationID))
			if raw == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "organization required"))
				return
			}
			orgID, err := uuid.Parse(raw)
			if err != nil || orgID == uuid.Nil {
				logger.WarnContext(ctx, "malformed organization header",
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "organization header is not a valid id"))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithOrganizationID(ctx, orgID)))
		})
	}
}
