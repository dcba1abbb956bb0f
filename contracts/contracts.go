// Package contracts embeds the OpenAPI description of the HTTP surface.
package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var OpenAPI []byte

// Load parses and validates the embedded contract. Servers are cleared so the
// request validator matches paths regardless of the deployment host.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(OpenAPI)
	if err != nil {
		return nil, fmt.Errorf("load openapi contract: %w", err)
	}
	if err := spec.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi contract: %w", err)
	}
	spec.Servers = nil
	return spec, nil
}
