package bookstore

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims the service embeds in issued tokens.
type TokenClaims struct {
	UserName string `json:"userName"`
	jwt.RegisteredClaims
}

// InspectToken decodes a token issued by GenerateToken without verifying its
// signature; the signing key belongs to the service.
func InspectToken(token string) (TokenClaims, error) {
	var claims TokenClaims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("inspect token: %w", err)
	}
	return claims, nil
}

// Issued returns the iat claim, or the zero time when absent.
func (c TokenClaims) Issued() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}
