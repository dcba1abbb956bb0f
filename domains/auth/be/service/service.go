package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/zenGate-Global/palmyra-reports/domains/auth/be/repo"
	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

const invalidCredentials = "invalid email or password"

// TenantResolver maps a tenant id onto its routing metadata. Implemented by tenant.Directory.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID int64) (tenant.ConnectionInfo, error)
}

// Issuer signs caller identities. Implemented by auth.TokenIssuer.
type Issuer interface {
	Issue(identity platformauth.CallerIdentity) (string, platformauth.CallerIdentity, error)
}

// LoginInput carries the submitted credentials.
type LoginInput struct {
	Email    string
	Password string
}

// Session is the outcome of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  platformauth.CallerIdentity
}

// Service defines the business operations for the auth domain.
type Service interface {
	Login(ctx context.Context, input LoginInput) (Session, error)
}

type service struct {
	repo    repo.Repository
	tenants TenantResolver
	issuer  Issuer
	logger  *zap.Logger
}

// New constructs an auth Service.
func New(r repo.Repository, tenants TenantResolver, issuer Issuer, logger *zap.Logger) Service {
	if r == nil {
		panic("auth repository is required")
	}
	if tenants == nil {
		panic("tenant resolver is required")
	}
	if issuer == nil {
		panic("token issuer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: r, tenants: tenants, issuer: issuer, logger: logger}
}

// dummyHash is compared against when the account is unknown so both paths cost one bcrypt check.
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("palmyra-reports-unknown-account"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
})

func (s *service) Login(ctx context.Context, input LoginInput) (Session, error) {
	email := persistence.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return Session{}, apperrors.Validation("email and password are required", "")
	}

	logger := platformlogging.Ctx(ctx, s.logger)

	account, err := s.repo.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(input.Password))
		logger.Info("login rejected", zap.String("reason", "unknown_account"))
		return Session{}, apperrors.Unauthenticated(invalidCredentials)
	case err != nil:
		return Session{}, apperrors.Upstream("user registry unavailable", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(input.Password)); err != nil {
		logger.Info("login rejected", zap.Int64("user_id", account.ID), zap.String("reason", "password_mismatch"))
		return Session{}, apperrors.Unauthenticated(invalidCredentials)
	}
	if !account.Active {
		logger.Info("login rejected", zap.Int64("user_id", account.ID), zap.String("reason", "inactive_account"))
		return Session{}, apperrors.Unauthenticated(invalidCredentials)
	}

	role, err := platformauth.ParseRole(account.Role)
	if err != nil {
		return Session{}, &apperrors.Error{Category: apperrors.CategoryInternal, Message: "account has an unknown role", Cause: err}
	}

	info, err := s.tenants.Resolve(ctx, account.TenantID)
	if err != nil {
		return Session{}, err
	}

	token, identity, err := s.issuer.Issue(platformauth.CallerIdentity{
		UserID:     account.ID,
		Email:      strings.ToLower(account.Email),
		Role:       role,
		TenantID:   info.TenantID,
		TenantSlug: info.Slug,
	})
	if err != nil {
		return Session{}, &apperrors.Error{Category: apperrors.CategoryInternal, Message: "token issuance failed", Cause: err}
	}

	logger.Info("login succeeded",
		zap.Int64("user_id", identity.UserID),
		zap.Int64("tenant_id", identity.TenantID),
		zap.String("role", identity.Role.String()),
	)

	return Session{Token: token, ExpiresAt: identity.ExpiresAt, Identity: identity}, nil
}
