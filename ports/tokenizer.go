package ports

import "github.com/layer-3/bastion/core"

// Tokenizer converts between domain claims and signed tokens
type Tokenizer interface {
	// User token operations
	ClaimsToAccessToken(claims core.UserTokenClaims) (string, error)
	ClaimsToRefreshToken(claims core.UserTokenClaims) (string, error)
	AccessTokenToClaims(token string) (*core.UserTokenClaims, error)
	RefreshTokenToClaims(token string) (*core.UserTokenClaims, error)

	// Service token operations
	SignServiceToken(claims core.ServiceClaims, secret []byte) (string, error)
	ParseServiceToken(token string, secret []byte) (*core.ServiceClaims, error)
}
