package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims carried by the RS256 tokens the UI session presents. Token
// issuing lives in a separate service; the broker only validates.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}
