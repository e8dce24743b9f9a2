package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/rl337/authface/models"
)

// Claims are the claims carried by an authface bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Tier     string  `json:"tier"`
	Provider string  `json:"provider"`
}

// TierOf decodes the tier claim. Unknown values are Free.
func TierOf(claims *Claims) models.Tier {
	if claims == nil {
		return models.TierFree
	}
	return models.ParseTier(claims.Tier)
}

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}
