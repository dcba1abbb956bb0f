package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerEmitsGCPSeverity(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "reports-api", Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("tenant_slug", "acme"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "reports-api", entry["component"])
	require.Equal(t, "acme", entry["tenant_slug"])
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	_, err := NewLogger(Config{Format: "xml"})
	require.Error(t, err)

	_, err = NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestRequestLoggerStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewLogger(Config{Output: &buf})
	require.NoError(t, err)

	var seen bool
	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.True(t, seen)
	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Contains(t, buf.String(), `"status":418`)
	require.Contains(t, buf.String(), `"path":"/healthz"`)
	require.Contains(t, buf.String(), `"severity":"WARNING"`)
}

func TestCtxFallsBack(t *testing.T) {
	fallback := zap.NewNop()
	require.Same(t, fallback, Ctx(context.Background(), fallback))

	ctx := With(context.Background(), fallback, zap.String("job_id", "j1"))
	logger, ok := FromContext(ctx)
	require.True(t, ok)
	require.NotNil(t, logger)
}
