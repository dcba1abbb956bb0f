package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/problem"
	"github.com/zenGate-Global/palmyra-reports/platform/go/requesttrace"
)

// RequestTrace populates the context with request-scoped AuditInfo and enriches the request logger with it.
// It should run after authentication middleware so the caller identity is available when present.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID := middleware.GetReqID(r.Context())

		var audit requesttrace.AuditInfo
		if identity, ok := platformauth.IdentityFromContext(r.Context()); ok {
			var err error
			audit, err = requesttrace.FromIdentity(identity, requestID)
			if err != nil {
				problem.Write(w, r, err, logger)
				return
			}
		} else {
			audit = requesttrace.Anonymous(requestID)
		}

		ctx := requesttrace.IntoContext(r.Context(), audit)
		if logger != nil {
			fields := []zap.Field{zap.String("actor_kind", string(audit.ActorKind))}
			if audit.UserID != nil {
				fields = append(fields, zap.Int64("user_id", *audit.UserID))
			}
			if audit.TenantID != nil {
				fields = append(fields, zap.Int64("tenant_id", *audit.TenantID))
			}
			if audit.Role != "" {
				fields = append(fields, zap.String("role", audit.Role))
			}
			ctx = platformlogging.WithLogger(ctx, logger.With(fields...))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
