package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/problem"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

// Resolver maps a tenant id onto its connection metadata. Implemented by tenant.Directory.
type Resolver interface {
	Resolve(ctx context.Context, tenantID int64) (tenant.ConnectionInfo, error)
}

// WithTenantConnection resolves the caller's tenant and attaches tenant.ConnectionInfo to the context.
// The resolved slug must match the slug carried in the token.
func WithTenantConnection(resolver Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := platformauth.IdentityFromContext(r.Context())
			if !ok {
				problem.Write(w, r, apperrors.Unauthenticated("tenant required"), logger)
				return
			}

			info, err := resolver.Resolve(r.Context(), identity.TenantID)
			if err != nil {
				problem.Write(w, r, err, logger, zap.Int64("tenant_id", identity.TenantID))
				return
			}

			if identity.TenantSlug != "" && identity.TenantSlug != info.Slug {
				problem.Write(w, r, apperrors.Unauthenticated("token tenant does not match registry"), logger,
					zap.Int64("tenant_id", identity.TenantID))
				return
			}

			ctx := tenant.WithConnection(r.Context(), info)
			ctx = platformlogging.With(ctx, logger, zap.String("tenant_slug", info.Slug))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
