package core

import "time"

// SessionStatus is the lifecycle state of a session row.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionTerminated SessionStatus = "terminated"
	SessionInactive   SessionStatus = "inactive"
)

// Session is a server-side record of an authenticated device for a user.
// The same shape is cached as the snapshot used on the token verification path.
type Session struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Role        string        `json:"role"`
	UserAgent   string        `json:"userAgent"`
	UserIP      string        `json:"userIp"`
	Fingerprint string        `json:"fingerprint"`
	Country     string        `json:"country"`
	City        string        `json:"city"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ClientContext describes the device a session is opened from.
type ClientContext struct {
	UserAgent   string `json:"userAgent"`
	UserIP      string `json:"userIp"`
	Fingerprint string `json:"fingerprint"`
	Country     string `json:"country"`
	City        string `json:"city"`
}

// User is the minimal identity returned by the directory.
type User struct {
	ID            string `json:"id"`
	Login         string `json:"login,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	PasswordHash  string `json:"-"`
}

// Challenge is a wallet-signing challenge. It is rendered as EIP-712 typed data
// with primary type Authentication.
type Challenge struct {
	Domain    ChallengeDomain `json:"domain"`
	Message   string          `json:"message"`
	Nonce     string          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Address   string          `json:"address"`
}

// ChallengeDomain is the EIP-712 domain separator input.
type ChallengeDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TokenPair is an access/refresh token pair bound to one session.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserTokenClaims are the domain claims carried by access and refresh tokens.
type UserTokenClaims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// Verification is the result of verifying a user access token.
type Verification struct {
	UserID       string   `json:"userId"`
	SessionID    string   `json:"sessionId"`
	Role         string   `json:"role"`
	Scope        []string `json:"scope"`
	ServiceToken string   `json:"serviceToken"`
}

// Service token type tags. The tag prefixes the issued JWT so that a callee can
// tell where a token came from without decoding it.
const (
	ServiceTokenSession = "session"
	ServiceTokenAPIKey  = "api_key"
	ServiceTokenService = "service"
)

// ServiceTokenSeparator joins the type tag and the JWT.
const ServiceTokenSeparator = ":"

// ServiceTokenRequest describes a zero-trust token for an inter-service call.
type ServiceTokenRequest struct {
	Subject   string        `json:"subject"`
	Actor     string        `json:"actor"`
	Issuer    string        `json:"issuer"`
	Audience  string        `json:"audience"`
	Type      string        `json:"type"`
	Scope     []string      `json:"scope,omitempty"`
	ExpiresIn time.Duration `json:"expiresIn,omitempty"`
}

// ServiceClaims is a verified service token.
type ServiceClaims struct {
	Subject   string
	Actor     string
	Issuer    string
	Audience  string
	Type      string
	Scope     []string
	ExpiresAt time.Time
}

// Permission is a directory permission descriptor.
type Permission struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Name    string `json:"name"`
}

// ConfirmationMethod is one configured 2FA channel for a user and permission.
type ConfirmationMethod struct {
	Method    string    `json:"method"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StepUpRequest is what the step-up check needs from an incoming call.
type StepUpRequest struct {
	Pattern      string
	UserID       string
	Login        string
	IP           string
	ServiceToken string
	Fields       map[string]any
}
