package service

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.directory.AddUser(core.User{ID: "u1"}, "trader")
	h.directory.SetRolePermissions("trader", "orders:write", "orders:read")

	session, err := h.sessions.CreateSession(ctx, "trace", "u1", core.ClientContext{})
	require.NoError(t, err)

	pair, err := h.issuer.CreateTokens(ctx, "u1", session.ID)
	require.NoError(t, err)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	v, err := h.issuer.VerifyToken(ctx, "trace", pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u1", v.UserID)
	require.Equal(t, session.ID, v.SessionID)
	require.Equal(t, "trader", v.Role)
	require.Equal(t, []string{"orders:write", "orders:read"}, v.Scope)

	claims, err := h.tokens.VerifyServiceJWT(v.ServiceToken, h.settings.Current().ServiceAudience)
	require.NoError(t, err)
	require.Equal(t, core.ServiceTokenSession, claims.Type)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, v.Scope, claims.Scope)

	t.Run("refresh token cannot verify", func(t *testing.T) {
		_, err := h.issuer.VerifyToken(ctx, "trace", pair.RefreshToken)
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := h.issuer.VerifyToken(ctx, "trace", "not-a-jwt")
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("token without session", func(t *testing.T) {
		token, err := h.tokenizer.ClaimsToAccessToken(core.UserTokenClaims{UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)})
		require.NoError(t, err)
		_, err = h.issuer.VerifyToken(ctx, "trace", token)
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("terminated session", func(t *testing.T) {
		require.NoError(t, h.sessions.TerminateSession(ctx, session.ID, "u1"))
		_, err := h.issuer.VerifyToken(ctx, "trace", pair.AccessToken)
		require.ErrorIs(t, err, core.ErrSessionNotFound)
	})
}

func TestTokenIssuer_Refresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.directory.AddUser(core.User{ID: "u1"}, "member")

	session, err := h.sessions.CreateSession(ctx, "trace", "u1", core.ClientContext{})
	require.NoError(t, err)
	pair, err := h.issuer.CreateTokens(ctx, "u1", session.ID)
	require.NoError(t, err)

	next, err := h.issuer.RefreshToken(ctx, "trace", pair.RefreshToken)
	require.NoError(t, err)

	v, err := h.issuer.VerifyToken(ctx, "trace", next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, session.ID, v.SessionID)

	_, err = h.issuer.RefreshToken(ctx, "trace", pair.AccessToken)
	require.ErrorIs(t, err, core.ErrInvalidToken)

	require.NoError(t, h.sessions.TerminateSession(ctx, session.ID, "u1"))
	_, err = h.issuer.RefreshToken(ctx, "trace", next.RefreshToken)
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestTokenIssuer_CreateTokensRequiresIDs(t *testing.T) {
	h := newHarness(t)
	_, err := h.issuer.CreateTokens(context.Background(), "", "s1")
	require.ErrorIs(t, err, core.ErrTokenCreationFailed)
}

func TestServiceTokens(t *testing.T) {
	h := newHarness(t)

	t.Run("secret fallback", func(t *testing.T) {
		tokens := NewServiceTokens(h.tokenizer, map[string]string{
			"ledger":         "exact",
			"orders_service": "suffixed",
		}, "fallback", h.settings)

		secret, err := tokens.SecretFor("ledger")
		require.NoError(t, err)
		require.Equal(t, "exact", string(secret))

		secret, err = tokens.SecretFor("orders")
		require.NoError(t, err)
		require.Equal(t, "suffixed", string(secret))

		secret, err = tokens.SecretFor("unknown")
		require.NoError(t, err)
		require.Equal(t, "fallback", string(secret))

		strict := NewServiceTokens(h.tokenizer, nil, "", h.settings)
		_, err = strict.SecretFor("unknown")
		require.Error(t, err)
		_, err = strict.GenerateServiceJWT(core.ServiceTokenRequest{Audience: "unknown", Type: core.ServiceTokenService})
		require.ErrorIs(t, err, core.ErrTokenCreationFailed)
	})

	t.Run("type tag prefix", func(t *testing.T) {
		token, err := h.tokens.GenerateServiceJWT(core.ServiceTokenRequest{
			Subject:  "key-1",
			Actor:    "gateway",
			Audience: "billing",
			Type:     core.ServiceTokenAPIKey,
			Scope:    []string{"invoices:read"},
		})
		require.NoError(t, err)

		typ, _, err := SplitServiceToken(token)
		require.NoError(t, err)
		require.Equal(t, core.ServiceTokenAPIKey, typ)

		claims, err := h.tokens.VerifyServiceJWT(token, "billing")
		require.NoError(t, err)
		require.Equal(t, "gateway", claims.Actor)
		require.Equal(t, h.settings.Current().Issuer, claims.Issuer)
		require.Equal(t, []string{"invoices:read"}, claims.Scope)
		require.WithinDuration(t, time.Now().Add(h.settings.Current().ServiceTokenExpiry), claims.ExpiresAt, 2*time.Second)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token, err := h.tokens.GenerateServiceJWT(core.ServiceTokenRequest{Audience: "billing", Type: core.ServiceTokenService})
		require.NoError(t, err)
		_, err = h.tokens.VerifyServiceJWT(token, "directory")
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("retagged token", func(t *testing.T) {
		token, err := h.tokens.GenerateServiceJWT(core.ServiceTokenRequest{Audience: "billing", Type: core.ServiceTokenSession})
		require.NoError(t, err)
		_, raw, err := SplitServiceToken(token)
		require.NoError(t, err)

		_, err = h.tokens.VerifyServiceJWT(core.ServiceTokenAPIKey+core.ServiceTokenSeparator+raw, "billing")
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("invalid requests", func(t *testing.T) {
		_, err := h.tokens.GenerateServiceJWT(core.ServiceTokenRequest{Audience: "billing"})
		require.ErrorIs(t, err, core.ErrTokenCreationFailed)
		_, err = h.tokens.GenerateServiceJWT(core.ServiceTokenRequest{Type: core.ServiceTokenService})
		require.ErrorIs(t, err, core.ErrTokenCreationFailed)
		_, _, err = SplitServiceToken("no-separator")
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})
}
