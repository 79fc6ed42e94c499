// Package auth provides a minimal bearer-token principal extractor,
// resolving a "user_id" claim from an already-issued token before the
// gateway calls the ledger.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the caller identity resolved from a bearer token.
type Principal struct {
	UserID uint64
	Tariff string
}

var ErrMissingBearerToken = errors.New("auth: missing bearer token")

// claims is the minimal claim set this gateway trusts; the issuing
// authentication service is out of scope and assumed to have already
// validated the caller.
type claims struct {
	UserID uint64 `json:"user_id"`
	Tariff string `json:"tariff"`
	jwt.RegisteredClaims
}

// Resolver validates bearer tokens against a shared signing key and
// extracts the Principal.
type Resolver struct {
	signingKey []byte
}

func NewResolver(signingKey []byte) *Resolver {
	return &Resolver{signingKey: signingKey}
}

// Resolve parses "Bearer <token>" from an Authorization header value and
// returns the Principal it names.
func (r *Resolver) Resolve(authorizationHeader string) (*Principal, error) {
	if !strings.HasPrefix(authorizationHeader, "Bearer ") {
		return nil, ErrMissingBearerToken
	}
	token := strings.TrimPrefix(authorizationHeader, "Bearer ")
	if token == "" {
		return nil, ErrMissingBearerToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return r.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	return &Principal{UserID: c.UserID, Tariff: c.Tariff}, nil
}
