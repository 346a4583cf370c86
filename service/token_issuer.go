package service

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
	"go.uber.org/zap"
)

// TokenIssuer issues user token pairs and scoped service tokens.
type TokenIssuer struct {
	tokenizer ports.Tokenizer
	sessions  *SessionManager
	directory ports.Directory
	tokens    *ServiceTokens
	settings  *SettingsStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewTokenIssuer(
	tokenizer ports.Tokenizer,
	sessions *SessionManager,
	directory ports.Directory,
	tokens *ServiceTokens,
	settings *SettingsStore,
	logger *zap.Logger,
) *TokenIssuer {
	return &TokenIssuer{
		tokenizer: tokenizer,
		sessions:  sessions,
		directory: directory,
		tokens:    tokens,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateTokens issues an access and a refresh token bound to sessionID.
func (t *TokenIssuer) CreateTokens(ctx context.Context, userID, sessionID string) (*core.TokenPair, error) {
	if userID == "" || sessionID == "" {
		return nil, core.ErrTokenCreationFailed
	}
	settings := t.settings.Current()
	now := t.now()

	access, err := t.tokenizer.ClaimsToAccessToken(core.UserTokenClaims{
		UserID:    userID,
		SessionID: sessionID,
		ExpiresAt: now.Add(settings.AccessTokenExpiry),
	})
	if err != nil {
		return nil, core.ErrTokenCreationFailed.Wrap(err)
	}
	refresh, err := t.tokenizer.ClaimsToRefreshToken(core.UserTokenClaims{
		UserID:    userID,
		SessionID: sessionID,
		ExpiresAt: now.Add(settings.RefreshTokenExpiry),
	})
	if err != nil {
		return nil, core.ErrTokenCreationFailed.Wrap(err)
	}
	return &core.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyToken checks an access token against its live session and mints a
// scoped service token for the caller's downstream requests.
func (t *TokenIssuer) VerifyToken(ctx context.Context, traceID, token string) (*core.Verification, error) {
	session, err := t.resolve(ctx, token, t.tokenizer.AccessTokenToClaims)
	if err != nil {
		return nil, core.AsError(err, core.ErrTokenVerificationFailed)
	}

	settings := t.settings.Current()
	call, err := t.tokens.DirectoryCall(traceID, session.UserID)
	if err != nil {
		return nil, core.ErrTokenVerificationFailed.Wrap(err)
	}
	scope, err := t.directory.GetPermissionsByRole(ctx, call, session.Role)
	if err != nil {
		return nil, core.ErrTokenVerificationFailed.Wrap(err)
	}

	serviceToken, err := t.tokens.GenerateServiceJWT(core.ServiceTokenRequest{
		Subject:  session.UserID,
		Actor:    settings.Issuer,
		Audience: settings.ServiceAudience,
		Type:     core.ServiceTokenSession,
		Scope:    scope,
	})
	if err != nil {
		return nil, core.ErrTokenVerificationFailed.Wrap(err)
	}

	return &core.Verification{
		UserID:       session.UserID,
		SessionID:    session.ID,
		Role:         session.Role,
		Scope:        scope,
		ServiceToken: serviceToken,
	}, nil
}

// RefreshToken issues a new pair for the session the refresh token is bound to.
// The session itself is not rotated.
func (t *TokenIssuer) RefreshToken(ctx context.Context, traceID, token string) (*core.TokenPair, error) {
	session, err := t.resolve(ctx, token, t.tokenizer.RefreshTokenToClaims)
	if err != nil {
		return nil, core.AsError(err, core.ErrTokenRefreshFailed)
	}

	pair, err := t.CreateTokens(ctx, session.UserID, session.ID)
	if err != nil {
		t.logger.Error("failed to reissue tokens", zap.String("trace_id", traceID), zap.String("session_id", session.ID), zap.Error(err))
		return nil, core.ErrTokenRefreshFailed.Wrap(err)
	}
	return pair, nil
}

// GenerateServiceJWT mints a "<type>:<jwt>" service token.
func (t *TokenIssuer) GenerateServiceJWT(req core.ServiceTokenRequest) (string, error) {
	return t.tokens.GenerateServiceJWT(req)
}

func (t *TokenIssuer) resolve(ctx context.Context, token string, parse func(string) (*core.UserTokenClaims, error)) (*core.Session, error) {
	claims, err := parse(token)
	if err != nil {
		var domainErr *core.Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, core.ErrInvalidToken.Wrap(err)
	}
	if claims.SessionID == "" {
		return nil, core.ErrInvalidToken
	}

	session, err := t.sessions.FindSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UserID {
		return nil, core.ErrInvalidToken
	}
	return session, nil
}
