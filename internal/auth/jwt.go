package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"mindia/internal/apperror"
)

// Claims is the subset of a verified JWT's claims this service relies on.
type Claims struct {
	Subject  string
	TenantID string
	Scopes   []string
	Expiry   time.Time
}

// JWTVerifier validates RS256/ES256-signed bearer tokens against a JWKS
// endpoint, caching the key set the way a JWKS client conventionally does
// (jwx's jwk.Cache handles background refresh and de-duplicates concurrent
// fetches internally).
type JWTVerifier struct {
	issuer string
	cache  *jwk.Cache
	jwksURL string
}

// NewJWTVerifier builds a verifier that fetches and refreshes its JWKS from
// jwksURL in the background.
func NewJWTVerifier(ctx context.Context, issuer, jwksURL string) (*JWTVerifier, error) {
	cache, err := jwk.NewCache(ctx, nil)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("create jwks cache: %w", err))
	}
	if err := cache.Register(ctx, jwksURL); err != nil {
		return nil, apperror.Internal(fmt.Errorf("register jwks endpoint: %w", err))
	}
	return &JWTVerifier{issuer: issuer, cache: cache, jwksURL: jwksURL}, nil
}

// Verify validates a bearer token's signature, issuer, and expiry, and
// extracts this service's claims from it.
func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	keySet, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return Claims{}, apperror.UpstreamTimeout(fmt.Errorf("fetch jwks: %w", err))
	}

	token, err := jwt.Parse([]byte(rawToken), jwt.WithKeySet(keySet), jwt.WithValidate(true))
	if err != nil {
		return Claims{}, apperror.Unauthorized("invalid or expired token")
	}

	if v.issuer != "" && token.Issuer() != v.issuer {
		return Claims{}, apperror.Unauthorized("unexpected token issuer")
	}

	tenantID, _ := token.PrivateClaims()["tenant_id"].(string)
	if tenantID == "" {
		return Claims{}, apperror.Unauthorized("token is missing tenant_id claim")
	}

	var scopes []string
	if rawScopes, ok := token.PrivateClaims()["scopes"].([]any); ok {
		for _, s := range rawScopes {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	expiry, _ := token.Expiration()

	return Claims{
		Subject:  token.Subject(),
		TenantID: tenantID,
		Scopes:   scopes,
		Expiry:   expiry,
	}, nil
}
