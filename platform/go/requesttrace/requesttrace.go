package requesttrace

import (
	"context"
	"errors"

	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "PALMYRA_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata needed for traceability.
// UserID and TenantID are set only when ActorKind is user.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *int64
	TenantID  *int64
	Role      string
	RequestID string
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromIdentity builds an AuditInfo from a verified caller and a request ID.
// Returns an error when identity is nil or missing a user id.
func FromIdentity(identity *platformauth.CallerIdentity, requestID string) (AuditInfo, error) {
	if identity == nil {
		return AuditInfo{}, errors.New("caller identity is required to build audit info")
	}
	if identity.UserID == 0 {
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}

	userID, tenantID := identity.UserID, identity.TenantID
	return AuditInfo{
		ActorKind: ActorKindUser,
		UserID:    &userID,
		TenantID:  &tenantID,
		Role:      identity.Role.String(),
		RequestID: requestID,
	}, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests (e.g., login) where no user is known yet.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for background operations such as render workers.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
