package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	claimEmail      = "email"
	claimRole       = "role"
	claimTenantID   = "tid"
	claimTenantSlug = "tslug"
)

// TokenConfig configures HS256 token issuance and verification.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

func (c TokenConfig) validate() error {
	if len(c.Secret) < 32 {
		return errors.New("token secret must be at least 32 bytes")
	}
	if c.Issuer == "" {
		return errors.New("token issuer is required")
	}
	return nil
}

func (c TokenConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// TokenIssuer signs CallerIdentity claim sets.
type TokenIssuer struct {
	cfg TokenConfig
}

// NewTokenIssuer validates cfg and returns an issuer. TTL defaults to 8h.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 8 * time.Hour
	}
	return &TokenIssuer{cfg: cfg}, nil
}

// Issue stamps issued-at/expiry on identity and returns the signed token with the stamped identity.
func (i *TokenIssuer) Issue(identity CallerIdentity) (string, CallerIdentity, error) {
	if identity.Role == RoleUnknown {
		return "", CallerIdentity{}, errors.New("identity role is required")
	}

	now := i.cfg.now().UTC().Truncate(time.Second)
	identity.IssuedAt = now
	identity.ExpiresAt = now.Add(i.cfg.TTL)

	claims := jwt.MapClaims{
		"sub":           strconv.FormatInt(identity.UserID, 10),
		"iss":           i.cfg.Issuer,
		"iat":           jwt.NewNumericDate(identity.IssuedAt),
		"exp":           jwt.NewNumericDate(identity.ExpiresAt),
		claimEmail:      identity.Email,
		claimRole:       identity.Role.String(),
		claimTenantID:   identity.TenantID,
		claimTenantSlug: identity.TenantSlug,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", CallerIdentity{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, identity, nil
}

// HS256Verifier returns a VerifyFunc that checks signature, issuer and expiry.
func HS256Verifier(cfg TokenConfig) (VerifyFunc, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.now),
	)

	return func(_ context.Context, token string) (map[string]interface{}, error) {
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return cfg.Secret, nil
		}); err != nil {
			return nil, err
		}
		return claims, nil
	}, nil
}

// IdentityFromClaims converts a verified claims map into a CallerIdentity.
func IdentityFromClaims(claims map[string]interface{}) (*CallerIdentity, error) {
	if claims == nil {
		return nil, errors.New("missing claims")
	}
	mc := jwt.MapClaims(claims)

	sub, err := mc.GetSubject()
	if err != nil {
		return nil, err
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid subject %q", sub)
	}

	role, err := ParseRole(extractStringClaim(claims, claimRole))
	if err != nil {
		return nil, err
	}

	tenantID, ok := extractIntClaim(claims, claimTenantID)
	if !ok || tenantID <= 0 {
		return nil, errors.New("missing tenant claim")
	}

	identity := &CallerIdentity{
		UserID:     userID,
		Email:      extractStringClaim(claims, claimEmail),
		Role:       role,
		TenantID:   tenantID,
		TenantSlug: extractStringClaim(claims, claimTenantSlug),
	}

	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	return identity, nil
}

func extractStringClaim(claims map[string]interface{}, key string) string {
	if v, ok := claims[key]; ok {
		if strVal, valid := v.(string); valid {
			return strVal
		}
	}
	return ""
}

func extractIntClaim(claims map[string]interface{}, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
