package middleware

import (
	"context"
	"errors"

	"github.com/getkin/kin-openapi/openapi3filter"

	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
)

// ValidateAuthenticationViaSwagger is the AuthenticationFunc for the OpenAPI request validator.
// Operations secured with bearerAuth need a caller identity already verified by the JWT middleware;
// operations declaring no security pass through.
func ValidateAuthenticationViaSwagger(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}

	r := input.RequestValidationInput.Request
	if r == nil {
		return errors.New("no request in validation input")
	}
	if _, ok := platformauth.IdentityFromContext(r.Context()); !ok {
		return errors.New("missing or invalid bearer token")
	}
	return nil
}
