package main

import (
	"net/http"

	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
)

// buildTokenAuth returns the HS256 issuer used by login and the JWT middleware that verifies its tokens.
func buildTokenAuth(cfg authConfig) (*platformauth.TokenIssuer, func(http.Handler) http.Handler, error) {
	tokenCfg := platformauth.TokenConfig{
		Secret: []byte(cfg.Secret),
		Issuer: cfg.Issuer,
		TTL:    cfg.TokenTTL,
	}

	issuer, err := platformauth.NewTokenIssuer(tokenCfg)
	if err != nil {
		return nil, nil, err
	}
	verify, err := platformauth.HS256Verifier(tokenCfg)
	if err != nil {
		return nil, nil, err
	}

	return issuer, platformauth.JWT(verify, platformauth.IdentityFromClaims), nil
}
