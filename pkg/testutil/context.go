package testutil

import (
	"net/http"

	"github.com/google/uuid"
)

// OrganizationHeader is the header the tenant middleware reads.
const OrganizationHeader = "X-Organization-ID"

// WithOrganization marks the request as coming from the given organization.
// This simulates what the API gateway does after authenticating the API key.
func WithOrganization(req *http.Request, orgID uuid.UUID) *http.Request {
	req.Header.Set(OrganizationHeader, orgID.String())
	return req
}
