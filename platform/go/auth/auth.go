package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	"github.com/zenGate-Global/palmyra-reports/platform/go/problem"
)

type ctxKey string

const (
	ctxCallerIdentity ctxKey = "PALMYRA_CALLER_IDENTITY"
)

// CallerIdentity is derived once per request from a verified claim set and never mutated.
type CallerIdentity struct {
	UserID     int64
	Email      string
	Role       Role
	TenantID   int64
	TenantSlug string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *CallerIdentity) context.Context {
	return context.WithValue(ctx, ctxCallerIdentity, identity)
}

// IdentityFromContext returns the verified caller, if any.
func IdentityFromContext(ctx context.Context) (*CallerIdentity, bool) {
	v := ctx.Value(ctxCallerIdentity)
	if v == nil {
		return nil, false
	}
	identity, ok := v.(*CallerIdentity)
	return identity, ok && identity != nil
}

// VerifyFunc validates the incoming JWT and returns its claims map.
type VerifyFunc func(ctx context.Context, token string) (map[string]interface{}, error)

// ExtractFunc converts a claims map into a CallerIdentity.
type ExtractFunc func(claims map[string]interface{}) (*CallerIdentity, error)

// JWT parses the request and sets the caller identity using the provided verify/extract functions.
// Requests without a bearer token pass through unauthenticated; RequireIdentity rejects them later.
func JWT(verify VerifyFunc, extract ExtractFunc) func(http.Handler) http.Handler {
	if verify == nil {
		panic("auth.JWT: verify func must not be nil")
	}
	if extract == nil {
		extract = IdentityFromClaims
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, found := ExtractJWTToken(r)
			if token == "" || !found {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verify(r.Context(), token)
			if err != nil {
				problem.WriteDetails(w, problem.Classify(apperrors.Unauthenticated("invalid or expired token")))
				return
			}

			identity, err := extract(claims)
			if err != nil {
				problem.WriteDetails(w, problem.Classify(apperrors.Unauthenticated("invalid token claims")))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireIdentity rejects requests that carry no verified caller.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			problem.WriteDetails(w, problem.Classify(apperrors.Unauthenticated("authentication required")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only callers holding one of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				problem.WriteDetails(w, problem.Classify(apperrors.Unauthenticated("authentication required")))
				return
			}

			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			problem.WriteDetails(w, problem.Classify(apperrors.Forbidden("role "+identity.Role.String()+" may not perform this operation")))
		})
	}
}
