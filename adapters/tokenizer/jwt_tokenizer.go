package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
	"github.com/oklog/ulid/v2"
)

const AudienceAccess = "session:access"
const AudienceRefresh = "session:refresh"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	issuer  string
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, issuer string) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey, issuer: issuer}
}

// ClaimsToAccessToken signs an access token
func (j *JWTTokenizer) ClaimsToAccessToken(claims core.UserTokenClaims) (string, error) {
	return j.signUserToken(claims, AudienceAccess)
}

// ClaimsToRefreshToken signs a refresh token
func (j *JWTTokenizer) ClaimsToRefreshToken(claims core.UserTokenClaims) (string, error) {
	return j.signUserToken(claims, AudienceRefresh)
}

// AccessTokenToClaims parses an access token
func (j *JWTTokenizer) AccessTokenToClaims(tokenStr string) (*core.UserTokenClaims, error) {
	return j.parseUserToken(tokenStr, AudienceAccess)
}

// RefreshTokenToClaims parses a refresh token
func (j *JWTTokenizer) RefreshTokenToClaims(tokenStr string) (*core.UserTokenClaims, error) {
	return j.parseUserToken(tokenStr, AudienceRefresh)
}

func (j *JWTTokenizer) signUserToken(claims core.UserTokenClaims, audience string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   claims.UserID,
			ID:        ulid.Make().String(),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Audience:  jwt.ClaimStrings{audience},
		},
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
	})

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

func (j *JWTTokenizer) parseUserToken(tokenStr, audience string) (*core.UserTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(audience), jwt.WithIssuer(j.issuer))
	if err != nil {
		return nil, core.ErrInvalidToken.Wrap(fmt.Errorf("failed to parse token: %w", err))
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok {
		return nil, core.ErrInvalidToken.Wrap(fmt.Errorf("invalid claims type"))
	}

	out := &core.UserTokenClaims{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// SignServiceToken signs a service token with an HMAC secret
func (j *JWTTokenizer) SignServiceToken(claims core.ServiceClaims, secret []byte) (string, error) {
	registered := jwt.RegisteredClaims{
		Issuer:    claims.Issuer,
		Subject:   claims.Subject,
		ID:        ulid.Make().String(),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	if claims.Audience != "" {
		registered.Audience = jwt.ClaimStrings{claims.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{
		RegisteredClaims: registered,
		Actor:            claims.Actor,
		Type:             claims.Type,
		Scope:            claims.Scope,
	})

	signedToken, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	return signedToken, nil
}

// ParseServiceToken verifies a service token against an HMAC secret
func (j *JWTTokenizer) ParseServiceToken(tokenStr string, secret []byte) (*core.ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, core.ErrInvalidToken.Wrap(fmt.Errorf("failed to parse service token: %w", err))
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok {
		return nil, core.ErrInvalidToken.Wrap(fmt.Errorf("invalid claims type"))
	}

	out := &core.ServiceClaims{
		Subject: claims.Subject,
		Actor:   claims.Actor,
		Issuer:  claims.Issuer,
		Type:    claims.Type,
		Scope:   claims.Scope,
	}
	if len(claims.Audience) > 0 {
		out.Audience = claims.Audience[0]
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
