package main

import (
	"context"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	authhandler "github.com/zenGate-Global/palmyra-reports/domains/auth/be/handler"
	connectionshandler "github.com/zenGate-Global/palmyra-reports/domains/connections/be/handler"
	reportshandler "github.com/zenGate-Global/palmyra-reports/domains/reports/be/handler"
	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/palmyra-reports/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-reports/platform/go/problem"
	tenantmiddleware "github.com/zenGate-Global/palmyra-reports/platform/go/tenant/middleware"
)

const readinessTimeout = 2 * time.Second

type routerDeps struct {
	Logger         *zap.Logger
	Spec           *openapi3.T
	CORSOrigins    []string
	RequestTimeout time.Duration
	Authenticate   func(http.Handler) http.Handler
	Tenants        tenantmiddleware.Resolver
	Ready          func(ctx context.Context) error

	Auth        *authhandler.Handler
	Reports     *reportshandler.Handler
	Connections *connectionshandler.Handler
}

func newRouter(d routerDeps) http.Handler {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(d.RequestTimeout),
		platformmiddleware.CORS(d.CORSOrigins),
	)
	rootRouter.Use(platformlogging.RequestLogger(d.Logger))
	rootRouter.Use(platformmiddleware.Metrics)

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", readyHandler(d.Ready, d.Logger))
	rootRouter.Handle("/metrics", promhttp.Handler())

	// ---- Swagger UI + OpenAPI contract (public) ----
	registerDocsRoutes(rootRouter, d.Spec, d.Logger)

	rootRouter.Group(func(api chi.Router) {
		api.Use(d.Authenticate)
		api.Use(newSpecValidator(d.Spec))

		d.Auth.Routes(api)

		api.Group(func(r chi.Router) {
			r.Use(platformauth.RequireIdentity)
			r.Use(platformmiddleware.RequestTrace)
			r.Use(tenantmiddleware.WithTenantConnection(d.Tenants, d.Logger))

			d.Reports.Routes(r)
			d.Connections.Routes(r)
		})
	})

	return rootRouter
}

// newSpecValidator builds the oapi-codegen request validator over the embedded contract.
// Failures are rendered as problem+json like every other error.
func newSpecValidator(spec *openapi3.T) func(http.Handler) http.Handler {
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			problem.WriteDetails(w, problem.Classify(validatorError(message, statusCode)))
		},
	})
}

func validatorError(message string, statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Unauthenticated("missing or invalid bearer token")
	case http.StatusNotFound:
		return apperrors.NotFound("no such operation")
	case http.StatusBadRequest:
		return apperrors.Validation(message, "check the request against /docs/openapi.yaml")
	default:
		return &apperrors.Error{Category: apperrors.CategoryInternal, Message: message}
	}
}

func readyHandler(ready func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := ready(ctx); err != nil {
				platformlogging.FromRequest(r, logger).Warn("readiness check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
