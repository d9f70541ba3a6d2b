// Package auth implements the module's auth surface: JWT
// issuance/verification for operator sessions, constant-time API
// key/secret comparison for Periphery-to-Core and fleetctl-to-Core
// calls, and an IP-keyed sliding-window rate limiter.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// claims is the JWT payload this module issues: just enough to identify
// the caller and bound the token's lifetime. HS256 is used throughout, so
// issuance and verification share one secret and there is no PKI to
// manage at this scope.
type claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies HS256 JWTs against a single shared
// secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds a TokenIssuer. secret must be non-empty; ttl is
// the lifetime assigned to every issued token.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: token secret must not be empty")
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue returns a signed JWT identifying subject, valid for the
// issuer's configured TTL.
func (i *TokenIssuer) Issue(subject string) (string, error) {
	now := time.Now()
	c := claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning the subject it was
// issued for.
func (i *TokenIssuer) Verify(tokenString string) (string, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: verify token: %w", err)
	}
	if !tok.Valid {
		return "", fmt.Errorf("auth: token not valid")
	}
	return c.Subject, nil
}
