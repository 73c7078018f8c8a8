package models

import "github.com/golang-jwt/jwt/v5"

// AccountClaims is the JWT claims structure issued by the auth provider.
type AccountClaims struct {
	jwt.RegisteredClaims                // Standard JWT claims (sub, iss, aud, exp, iat, etc.)
	Email                string         `json:"email"`
	Role                 string         `json:"role"` // "authenticated" or "anon"
	AppMetadata          map[string]any `json:"app_metadata"`
	SessionID            string         `json:"session_id"`
	IsAnonymous          bool           `json:"is_anonymous"`
}

// GetAccountID returns the account ID from the JWT subject claim.
func (c *AccountClaims) GetAccountID() string {
	return c.Subject
}
