// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the values; services and workers read them:
//
//	orgID := requestcontext.OrganizationID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject a fixed clock with requestcontext.WithTime.
package requestcontext

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type (
	organizationIDKey struct{}
	requestIDKey      struct{}
	requestTimeKey    struct{}
	jobIDKey          struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyOrganizationID = organizationIDKey{}
	ContextKeyRequestID      = requestIDKey{}
	ContextKeyRequestTime    = requestTimeKey{}
	ContextKeyJobID          = jobIDKey{}
)

// OrganizationID returns the calling organization, or uuid.Nil when unset.
func OrganizationID(ctx context.Context) uuid.UUID {
	if orgID, ok := ctx.Value(ContextKeyOrganizationID).(uuid.UUID); ok {
		return orgID
	}
	return uuid.Nil
}

func WithOrganizationID(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, ContextKeyOrganizationID, orgID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// JobID retrieves the background job ID a worker is executing, if any.
func JobID(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}

func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
