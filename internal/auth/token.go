// Package auth verifies connection credentials. The messaging core never
// issues tokens; it only checks the signature and expiry of a JWT minted by
// the outer system and resolves the user identity from its claims.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSubject is returned when a structurally valid token carries
	// neither a "sub" nor an "id" claim.
	ErrNoSubject = errors.New("auth: token has no subject claim")

	// ErrInvalidToken is returned for tokens that fail signature or
	// expiry validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Verifier validates HS256-signed JWTs against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token string and returns the user ID from
// its subject. Both "sub" and "id" claim names are accepted for compatibility
// with the different token issuers in the outer system.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if id, ok := claims["id"].(string); ok && id != "" {
		return id, nil
	}
	return "", ErrNoSubject
}

// Issue creates a signed token for the given user. It exists for tests and
// local tooling only; production tokens come from the outer system.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
