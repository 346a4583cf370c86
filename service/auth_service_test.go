package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/bastion/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthenticateNative_Lockout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withLoginGuard(3, 10*time.Second, 30*time.Second, time.Minute))
	addNativeUser(t, h, "u1", "alice", "s3cret", "member")
	wrong := AuthenticateRequest{Login: "alice", Password: "nope", IP: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		res := h.auth.AuthenticateNative(ctx, "trace", wrong)
		require.False(t, res.Status)
		require.Nil(t, res.Message)
		require.Equal(t, core.CodeAuthenticationFailed, res.ErrorCode)
	}

	res := h.auth.AuthenticateNative(ctx, "trace", wrong)
	require.Equal(t, core.CodeTooManyRequests, res.ErrorCode)
	require.Equal(t, 10, res.Detail[core.DetailRemainingSeconds])

	// the right password does not get through while locked
	right := AuthenticateRequest{Login: "alice", Password: "s3cret", IP: "10.0.0.1"}
	res = h.auth.AuthenticateNative(ctx, "trace", right)
	require.Equal(t, core.CodeTooManyRequests, res.ErrorCode)

	h.clock.Advance(4 * time.Second)
	res = h.auth.AuthenticateNative(ctx, "trace", right)
	require.Equal(t, 6, res.Detail[core.DetailRemainingSeconds])

	h.clock.Advance(6 * time.Second)
	res = h.auth.AuthenticateNative(ctx, "trace", wrong)
	require.Equal(t, core.CodeTooManyRequests, res.ErrorCode)
	require.Equal(t, 30, res.Detail[core.DetailRemainingSeconds])

	h.clock.Advance(30 * time.Second)
	res = h.auth.AuthenticateNative(ctx, "trace", right)
	require.True(t, res.Status)
	require.NotNil(t, res.Message)
	require.Equal(t, "u1", res.Data.ID)

	attempts, err := h.loginGuard.Attempts(ctx, "10.0.0.1:alice")
	require.NoError(t, err)
	require.Zero(t, attempts)
}

func TestAuthenticateNative_CounterScope(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withLoginGuard(1, time.Minute))
	addNativeUser(t, h, "u1", "alice", "s3cret", "member")

	res := h.auth.AuthenticateNative(ctx, "trace", AuthenticateRequest{Login: "alice", Password: "x", IP: "10.0.0.1"})
	require.Equal(t, core.CodeAuthenticationFailed, res.ErrorCode)
	res = h.auth.AuthenticateNative(ctx, "trace", AuthenticateRequest{Login: "ALICE", Password: "x", IP: "10.0.0.1"})
	require.Equal(t, core.CodeTooManyRequests, res.ErrorCode)

	// another ip has its own counter
	res = h.auth.AuthenticateNative(ctx, "trace", AuthenticateRequest{Login: "alice", Password: "s3cret", IP: "10.0.0.2"})
	require.True(t, res.Status)
}

func TestAuthenticateNative_UnknownUserLooksLikeBadPassword(t *testing.T) {
	h := newHarness(t)
	res := h.auth.AuthenticateNative(context.Background(), "trace", AuthenticateRequest{Login: "ghost", Password: "x", IP: "10.0.0.1"})
	require.Equal(t, core.CodeAuthenticationFailed, res.ErrorCode)

	res = h.auth.AuthenticateNative(context.Background(), "trace", AuthenticateRequest{IP: "10.0.0.1"})
	require.Equal(t, core.CodeInvalidCredentials, res.ErrorCode)
}

func TestLogin_Native(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addNativeUser(t, h, "u1", "alice", "s3cret", "member")

	res := h.auth.Login(ctx, "trace", LoginRequest{
		AuthenticateRequest: AuthenticateRequest{Login: "alice", Password: "s3cret", IP: "10.0.0.1"},
		Client:              core.ClientContext{UserAgent: "curl/8"},
	})
	require.True(t, res.Status)
	require.Equal(t, "logged in", *res.Message)
	require.Equal(t, "u1", res.Data.Session.UserID)
	require.Equal(t, "10.0.0.1", res.Data.Session.UserIP)
	require.Equal(t, "member", res.Data.Session.Role)

	verified := h.auth.TokenVerify(ctx, "trace", TokenVerifyRequest{Token: res.Data.Tokens.AccessToken})
	require.True(t, verified.Status)
	require.Equal(t, res.Data.Session.ID, verified.Data.SessionID)

	refreshed := h.auth.RefreshToken(ctx, "trace", RefreshTokenRequest{RefreshToken: res.Data.Tokens.RefreshToken})
	require.True(t, refreshed.Status)
	require.NotEqual(t, res.Data.Tokens.AccessToken, refreshed.Data.AccessToken)
}

func TestLogin_WalletThroughTypedData(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key, address := newWallet(t)

	nonce := h.auth.GenerateNonce(ctx, "trace", GenerateNonceRequest{Address: address})
	require.True(t, nonce.Status)
	require.Equal(t, "Authentication", nonce.Data.PrimaryType)

	// sign the payload the way a wallet would
	hash, _, err := apitypes.TypedDataAndHash(*nonce.Data)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	req := LoginRequest{AuthenticateRequest: AuthenticateRequest{WalletAddress: address, Signature: hexutil.Encode(sig), IP: "10.0.0.1"}}
	res := h.auth.Login(ctx, "trace", req)
	require.True(t, res.Status)
	require.NotEmpty(t, res.Data.Tokens.AccessToken)

	// the challenge is single use and wallet failures keep their own code
	res = h.auth.Login(ctx, "trace", req)
	require.Equal(t, core.CodeInvalidCredentials, res.ErrorCode)
	require.Nil(t, res.Data)

	bad := h.auth.GenerateNonce(ctx, "trace", GenerateNonceRequest{Address: "0xnope"})
	require.False(t, bad.Status)
	require.Equal(t, core.CodeInvalidCredentials, bad.ErrorCode)
}

func TestLogin_SessionLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withSettings(func(s *Settings) { s.MaxSessions = 1 }))
	addNativeUser(t, h, "u1", "alice", "s3cret", "member")
	req := LoginRequest{AuthenticateRequest: AuthenticateRequest{Login: "alice", Password: "s3cret", IP: "10.0.0.1"}}

	require.True(t, h.auth.Login(ctx, "trace", req).Status)
	res := h.auth.Login(ctx, "trace", req)
	require.Equal(t, core.CodeSessionLimitExceeded, res.ErrorCode)
}

func TestSessionOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.directory.AddUser(core.User{ID: "u1", Login: "alice"}, "member")

	var ids []string
	for i := 0; i < 3; i++ {
		res := h.auth.SessionCreate(ctx, "trace", SessionCreateRequest{UserID: "u1"})
		require.True(t, res.Status)
		ids = append(ids, res.Data.ID)
		h.clock.Advance(time.Minute)
	}

	tokens := h.auth.TokensCreate(ctx, "trace", TokensCreateRequest{UserID: "u1", SessionID: ids[0]})
	require.True(t, tokens.Status)
	missing := h.auth.TokensCreate(ctx, "trace", TokensCreateRequest{UserID: "u1"})
	require.Equal(t, core.CodeTokenCreationFailed, missing.ErrorCode)

	active := h.auth.GetActiveSessions(ctx, "trace", SessionsRequest{UserID: "u1"})
	require.True(t, active.Status)
	require.Equal(t, 3, active.Data.Total)
	require.Equal(t, DefaultPerPage, active.Data.PerPage)

	foreign := h.auth.TerminateSession(ctx, "trace", TerminateSessionRequest{SessionID: ids[0], UserID: "u2"})
	require.Equal(t, core.CodeSessionNotFound, foreign.ErrorCode)

	one := h.auth.TerminateSession(ctx, "trace", TerminateSessionRequest{SessionID: ids[0], UserID: "u1"})
	require.True(t, one.Status)
	require.Equal(t, 1, one.Data.Count)

	verify := h.auth.TokenVerify(ctx, "trace", TokenVerifyRequest{Token: tokens.Data.AccessToken})
	require.False(t, verify.Status)

	until := h.auth.GetSessionsUntilDate(ctx, "trace", SessionsUntilDateRequest{UserID: "u1", Until: h.clock.Now().Add(-2 * time.Minute)})
	require.Equal(t, 2, until.Data.Total)

	all := h.auth.TerminateAllSessions(ctx, "trace", TerminateAllSessionsRequest{UserID: "u1"})
	require.True(t, all.Status)
	require.Equal(t, 2, all.Data.Count)

	history := h.auth.GetSessionsHistory(ctx, "trace", SessionsRequest{UserID: "u1", Page: Page{Page: 1, PerPage: 2}})
	require.Equal(t, 3, history.Data.Total)
	require.Len(t, history.Data.Sessions, 2)
}

func TestServiceTokenOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res := h.auth.GenerateServiceToken(ctx, "trace", core.ServiceTokenRequest{Subject: "u1", Actor: "gateway", Audience: "billing", Type: core.ServiceTokenSession})
	require.True(t, res.Status)

	ok := h.auth.VerifyServiceToken(ctx, "trace", res.Data.Token, "billing")
	require.True(t, ok.Status)
	require.Equal(t, "gateway", ok.Data.Actor)

	wrong := h.auth.VerifyServiceToken(ctx, "trace", res.Data.Token, "directory")
	require.Equal(t, core.CodeInvalidToken, wrong.ErrorCode)
}

func TestAuthorizeStepUpEnvelope(t *testing.T) {
	ctx := context.Background()
	h := newStepUpHarness(t)
	h.directory.SetConfirmationMethods("u1", "perm-withdraw", core.ConfirmationMethod{Method: "email", Code: "111111"})

	require.True(t, h.auth.StepUpApplies(withdrawPattern))
	require.False(t, h.auth.StepUpApplies("POST /profile"))

	res := h.auth.AuthorizeStepUp(ctx, "trace", withdrawRequest(nil))
	require.Equal(t, core.CodeMissingConfirmationCode, res.ErrorCode)
	require.Equal(t, "emailCode", res.Detail["field"])

	res = h.auth.AuthorizeStepUp(ctx, "trace", withdrawRequest(map[string]any{"emailCode": "111111"}))
	require.True(t, res.Status)
}

func TestRespondUnknownError(t *testing.T) {
	observed, logs := observer.New(zapcore.InfoLevel)
	s := &AuthService{logger: zap.New(observed)}

	res := respond(s, "trace", "op", "ok", 42, errors.New("connection reset"))
	require.False(t, res.Status)
	require.Nil(t, res.Message)
	require.Equal(t, core.CodeUnknown, res.ErrorCode)
	require.Zero(t, res.Data)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	res = respond(s, "trace", "op", "ok", 42, core.ErrSessionNotFound)
	require.Equal(t, core.CodeSessionNotFound, res.ErrorCode)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.InfoLevel).Len())

	res = respond(s, "trace", "op", "ok", 42, nil)
	require.True(t, res.Status)
	require.Equal(t, "ok", *res.Message)
	require.Equal(t, 42, res.Data)
}
