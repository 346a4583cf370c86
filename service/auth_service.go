package service

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/internal/eth"
	"go.uber.org/zap"
)

// Response is the envelope every AuthService operation returns. Message is nil
// on failure; callers branch on ErrorCode.
type Response[T any] struct {
	Status    bool           `json:"status"`
	Message   *string        `json:"message"`
	ErrorCode core.ErrorCode `json:"errorCode,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Data      T              `json:"data,omitempty"`
}

// AuthenticateRequest carries exactly one credential shape.
type AuthenticateRequest struct {
	Login         string `json:"login,omitempty"`
	Password      string `json:"password,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Signature     string `json:"signature,omitempty"`
	Provider      string `json:"provider,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	IP            string `json:"ip,omitempty"`
}

// Credentials picks the variant the populated fields describe.
func (r AuthenticateRequest) Credentials() core.Credentials {
	switch {
	case r.Login != "" || r.Password != "":
		return core.NativeCredentials{Login: r.Login, Password: r.Password}
	case r.WalletAddress != "" || r.Signature != "":
		return core.WalletCredentials{Address: r.WalletAddress, Signature: r.Signature}
	case r.Provider != "" || r.AccessToken != "":
		return core.OAuthCredentials{Provider: r.Provider, AccessToken: r.AccessToken}
	}
	return nil
}

type LoginRequest struct {
	AuthenticateRequest
	Client core.ClientContext `json:"client"`
}

type LoginResult struct {
	User    *core.User     `json:"user"`
	Session *core.Session  `json:"session"`
	Tokens  core.TokenPair `json:"tokens"`
}

type GenerateNonceRequest struct {
	Address string `json:"address"`
}

type SessionCreateRequest struct {
	UserID string             `json:"userId"`
	Client core.ClientContext `json:"client"`
}

type TokensCreateRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type TokenVerifyRequest struct {
	Token string `json:"token"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TerminateSessionRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type TerminateAllSessionsRequest struct {
	UserID string `json:"userId"`
}

type TerminatedSessions struct {
	Count int `json:"count"`
}

type SessionsRequest struct {
	UserID string `json:"userId"`
	Page
}

type SessionsUntilDateRequest struct {
	UserID string    `json:"userId"`
	Until  time.Time `json:"until"`
	Page
}

type ServiceToken struct {
	Token string `json:"token"`
}

// AuthService is the request/response boundary of the authentication core.
type AuthService struct {
	verifier   *CredentialVerifier
	sessions   *SessionManager
	issuer     *TokenIssuer
	stepUp     *StepUpAuthorizer
	loginGuard *AbuseGuard
	logger     *zap.Logger
}

func NewAuthService(
	verifier *CredentialVerifier,
	sessions *SessionManager,
	issuer *TokenIssuer,
	stepUp *StepUpAuthorizer,
	loginGuard *AbuseGuard,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		verifier:   verifier,
		sessions:   sessions,
		issuer:     issuer,
		stepUp:     stepUp,
		loginGuard: loginGuard,
		logger:     logger,
	}
}

func respond[T any](s *AuthService, traceID, op, message string, data T, err error) Response[T] {
	if err == nil {
		return Response[T]{Status: true, Message: &message, Data: data}
	}

	e := core.AsError(err, core.ErrUnknown)
	fields := []zap.Field{zap.String("trace_id", traceID), zap.String("op", op), zap.String("code", string(e.Code)), zap.Error(err)}
	if e.Code == core.CodeUnknown {
		s.logger.Error("operation failed", fields...)
	} else {
		s.logger.Info("operation rejected", fields...)
	}

	var zero T
	return Response[T]{Status: false, ErrorCode: e.Code, Detail: e.Detail, Data: zero}
}

// authenticate runs the guarded credential check shared by AuthenticateNative and Login.
func (s *AuthService) authenticate(ctx context.Context, traceID string, req AuthenticateRequest) (*core.User, error) {
	creds := req.Credentials()
	if creds == nil {
		return nil, core.ErrInvalidCredentials
	}
	guardID := req.IP + ":" + strings.ToLower(creds.Identifier())

	if err := s.loginGuard.Check(ctx, guardID); err != nil {
		return nil, err
	}

	user, err := s.verifier.Authenticate(ctx, traceID, creds)
	if err != nil {
		if _, regErr := s.loginGuard.RegisterFailedAttempt(ctx, guardID); regErr != nil {
			s.logger.Error("failed to register attempt", zap.String("trace_id", traceID), zap.Error(regErr))
		}
		if lockErr := s.loginGuard.Check(ctx, guardID); lockErr != nil {
			return nil, lockErr
		}
		if creds.Kind() == core.CredentialNative {
			switch core.CodeOf(err) {
			case core.CodeUserNotFound, core.CodeInvalidCredentials:
				return nil, core.ErrAuthenticationFailed.Wrap(err)
			}
		}
		return nil, err
	}

	if err := s.loginGuard.ResetAttempts(ctx, guardID); err != nil {
		s.logger.Warn("failed to reset attempts", zap.String("trace_id", traceID), zap.Error(err))
	}
	return user, nil
}

// AuthenticateNative verifies credentials without opening a session.
func (s *AuthService) AuthenticateNative(ctx context.Context, traceID string, req AuthenticateRequest) Response[*core.User] {
	user, err := s.authenticate(ctx, traceID, req)
	return respond(s, traceID, "authenticateNative", "authenticated", user, err)
}

// Login authenticates, opens a session and issues its token pair.
func (s *AuthService) Login(ctx context.Context, traceID string, req LoginRequest) Response[*LoginResult] {
	result, err := func() (*LoginResult, error) {
		user, err := s.authenticate(ctx, traceID, req.AuthenticateRequest)
		if err != nil {
			return nil, err
		}
		client := req.Client
		if client.UserIP == "" {
			client.UserIP = req.IP
		}
		session, err := s.sessions.CreateSession(ctx, traceID, user.ID, client)
		if err != nil {
			return nil, err
		}
		pair, err := s.issuer.CreateTokens(ctx, user.ID, session.ID)
		if err != nil {
			return nil, err
		}
		return &LoginResult{User: user, Session: session, Tokens: *pair}, nil
	}()
	return respond(s, traceID, "login", "logged in", result, err)
}

// GenerateNonce returns the EIP-712 typed data the wallet has to sign.
func (s *AuthService) GenerateNonce(ctx context.Context, traceID string, req GenerateNonceRequest) Response[*apitypes.TypedData] {
	var typed *apitypes.TypedData
	ch, err := s.verifier.GenerateNonce(ctx, req.Address)
	if err == nil {
		td := eth.TypedData(ch)
		typed = &td
	}
	return respond(s, traceID, "generateNonce", "challenge issued", typed, err)
}

func (s *AuthService) SessionCreate(ctx context.Context, traceID string, req SessionCreateRequest) Response[*core.Session] {
	session, err := s.sessions.CreateSession(ctx, traceID, req.UserID, req.Client)
	return respond(s, traceID, "sessionCreate", "session created", session, err)
}

func (s *AuthService) TokensCreate(ctx context.Context, traceID string, req TokensCreateRequest) Response[*core.TokenPair] {
	pair, err := s.issuer.CreateTokens(ctx, req.UserID, req.SessionID)
	return respond(s, traceID, "tokensCreate", "tokens created", pair, err)
}

func (s *AuthService) TokenVerify(ctx context.Context, traceID string, req TokenVerifyRequest) Response[*core.Verification] {
	v, err := s.issuer.VerifyToken(ctx, traceID, req.Token)
	return respond(s, traceID, "tokenVerify", "token verified", v, err)
}

func (s *AuthService) RefreshToken(ctx context.Context, traceID string, req RefreshTokenRequest) Response[*core.TokenPair] {
	pair, err := s.issuer.RefreshToken(ctx, traceID, req.RefreshToken)
	return respond(s, traceID, "refreshToken", "tokens refreshed", pair, err)
}

func (s *AuthService) TerminateSession(ctx context.Context, traceID string, req TerminateSessionRequest) Response[*TerminatedSessions] {
	var out *TerminatedSessions
	err := s.sessions.TerminateSession(ctx, req.SessionID, req.UserID)
	if err == nil {
		out = &TerminatedSessions{Count: 1}
	}
	return respond(s, traceID, "terminateSession", "session terminated", out, err)
}

func (s *AuthService) TerminateAllSessions(ctx context.Context, traceID string, req TerminateAllSessionsRequest) Response[*TerminatedSessions] {
	var out *TerminatedSessions
	n, err := s.sessions.TerminateAllSessions(ctx, req.UserID)
	if err == nil {
		out = &TerminatedSessions{Count: n}
	}
	return respond(s, traceID, "terminateAllSessions", "sessions terminated", out, err)
}

func (s *AuthService) GetActiveSessions(ctx context.Context, traceID string, req SessionsRequest) Response[*SessionPage] {
	page, err := s.sessions.ActiveSessions(ctx, req.UserID, req.Page)
	return respond(s, traceID, "getActiveSessions", "active sessions", page, err)
}

func (s *AuthService) GetSessionsHistory(ctx context.Context, traceID string, req SessionsRequest) Response[*SessionPage] {
	page, err := s.sessions.SessionsHistory(ctx, req.UserID, req.Page)
	return respond(s, traceID, "getSessionsHistory", "sessions history", page, err)
}

func (s *AuthService) GetSessionsUntilDate(ctx context.Context, traceID string, req SessionsUntilDateRequest) Response[*SessionPage] {
	page, err := s.sessions.SessionsUntilDate(ctx, req.UserID, req.Until, req.Page)
	return respond(s, traceID, "getSessionsUntilDate", "sessions until date", page, err)
}

// GenerateServiceToken mints a zero-trust token for a service-to-service call.
func (s *AuthService) GenerateServiceToken(ctx context.Context, traceID string, req core.ServiceTokenRequest) Response[*ServiceToken] {
	var out *ServiceToken
	token, err := s.issuer.GenerateServiceJWT(req)
	if err == nil {
		out = &ServiceToken{Token: token}
	}
	return respond(s, traceID, "generateServiceToken", "service token issued", out, err)
}

// VerifyServiceToken checks a service token addressed to audience.
func (s *AuthService) VerifyServiceToken(ctx context.Context, traceID, token, audience string) Response[*core.ServiceClaims] {
	claims, err := s.issuer.tokens.VerifyServiceJWT(token, audience)
	return respond(s, traceID, "verifyServiceToken", "service token verified", claims, err)
}

// AuthorizeStepUp enforces confirmation codes for req.Pattern.
func (s *AuthService) AuthorizeStepUp(ctx context.Context, traceID string, req core.StepUpRequest) Response[struct{}] {
	err := s.stepUp.Authorize(ctx, traceID, req)
	return respond(s, traceID, "authorizeStepUp", "confirmed", struct{}{}, err)
}

// StepUpApplies reports whether calls registered under pattern need confirmation.
func (s *AuthService) StepUpApplies(pattern string) bool {
	return s.stepUp.Applies(pattern)
}
