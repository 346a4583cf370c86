package tokenizer

import "github.com/golang-jwt/jwt/v5"

// UserClaims combines standard claims with the session binding of a user token
type UserClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// ServiceClaims are the claims of a zero-trust service token
type ServiceClaims struct {
	jwt.RegisteredClaims
	Actor string   `json:"act"`
	Type  string   `json:"typ"`
	Scope []string `json:"scope,omitempty"`
}
