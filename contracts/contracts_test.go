package contracts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	spec, err := Load(context.Background())
	require.NoError(t, err)

	for _, path := range []string{
		"/auth/login",
		"/reports/execute",
		"/reports/export-pdf",
		"/reports/export-pdf/{jobId}/status",
		"/db/status",
		"/db/databases",
		"/db/test",
		"/db/switch",
	} {
		require.NotNil(t, spec.Paths.Find(path), path)
	}

	require.Contains(t, spec.Components.SecuritySchemes, "bearerAuth")
	login := spec.Paths.Find("/auth/login").Post
	require.NotNil(t, login.Security)
	require.Empty(t, *login.Security)
}
