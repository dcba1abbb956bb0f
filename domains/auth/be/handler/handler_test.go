package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-reports/domains/auth/be/service"
	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
)

type mockService struct {
	loginFn func(ctx context.Context, input service.LoginInput) (service.Session, error)
}

func (m *mockService) Login(ctx context.Context, input service.LoginInput) (service.Session, error) {
	if m.loginFn == nil {
		panic("loginFn not configured")
	}
	return m.loginFn(ctx, input)
}

func serve(t *testing.T, svc service.Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	return rec
}

func TestLoginSuccess(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	svc := &mockService{loginFn: func(ctx context.Context, input service.LoginInput) (service.Session, error) {
		require.Equal(t, "ana@acme.test", input.Email)
		require.Equal(t, "s3cret", input.Password)
		return service.Session{
			Token:     "signed.jwt.value",
			ExpiresAt: expires,
			Identity: platformauth.CallerIdentity{
				UserID: 3, Email: "ana@acme.test", Role: platformauth.RoleReadOnly, TenantID: 7, TenantSlug: "acme",
			},
		}, nil
	}}

	rec := serve(t, svc, `{"email":"ana@acme.test","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "signed.jwt.value", body.Token)
	require.True(t, expires.Equal(body.ExpiresAt))
	require.Equal(t, "read-only", body.User.Role)
	require.Equal(t, "acme", body.Tenant.Slug)
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()

	svc := &mockService{loginFn: func(context.Context, service.LoginInput) (service.Session, error) {
		return service.Session{}, apperrors.Unauthenticated("invalid email or password")
	}}

	rec := serve(t, svc, `{"email":"ana@acme.test","password":"bad"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid email or password")
}

func TestLoginMalformedBody(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusBadRequest, serve(t, &mockService{}, "").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, &mockService{}, "{").Code)
}
