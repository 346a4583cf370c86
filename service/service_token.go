package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
)

// ServiceTokens mints and verifies zero-trust tokens for service-to-service calls.
type ServiceTokens struct {
	tokenizer     ports.Tokenizer
	secrets       map[string][]byte
	defaultSecret []byte
	settings      *SettingsStore
}

// NewServiceTokens creates a minter. secrets maps audience to signing secret.
func NewServiceTokens(tokenizer ports.Tokenizer, secrets map[string]string, defaultSecret string, settings *SettingsStore) *ServiceTokens {
	s := &ServiceTokens{
		tokenizer: tokenizer,
		secrets:   make(map[string][]byte, len(secrets)),
		settings:  settings,
	}
	for aud, secret := range secrets {
		s.secrets[aud] = []byte(secret)
	}
	if defaultSecret != "" {
		s.defaultSecret = []byte(defaultSecret)
	}
	return s
}

// SecretFor resolves the signing secret: exact audience, then audience_service,
// then the default.
func (s *ServiceTokens) SecretFor(audience string) ([]byte, error) {
	if secret, ok := s.secrets[audience]; ok {
		return secret, nil
	}
	if secret, ok := s.secrets[audience+"_service"]; ok {
		return secret, nil
	}
	if len(s.defaultSecret) > 0 {
		return s.defaultSecret, nil
	}
	return nil, fmt.Errorf("no signing secret for audience %q", audience)
}

// GenerateServiceJWT returns "<type>:<jwt>".
func (s *ServiceTokens) GenerateServiceJWT(req core.ServiceTokenRequest) (string, error) {
	if req.Type == "" || strings.Contains(req.Type, core.ServiceTokenSeparator) {
		return "", core.ErrTokenCreationFailed.Wrap(fmt.Errorf("invalid token type %q", req.Type))
	}
	if req.Audience == "" {
		return "", core.ErrTokenCreationFailed.Wrap(fmt.Errorf("missing audience"))
	}

	settings := s.settings.Current()
	if req.Issuer == "" {
		req.Issuer = settings.Issuer
	}
	if req.ExpiresIn <= 0 {
		req.ExpiresIn = settings.ServiceTokenExpiry
	}

	secret, err := s.SecretFor(req.Audience)
	if err != nil {
		return "", core.ErrTokenCreationFailed.Wrap(err)
	}

	token, err := s.tokenizer.SignServiceToken(core.ServiceClaims{
		Subject:   req.Subject,
		Actor:     req.Actor,
		Issuer:    req.Issuer,
		Audience:  req.Audience,
		Type:      req.Type,
		Scope:     req.Scope,
		ExpiresAt: time.Now().Add(req.ExpiresIn),
	}, secret)
	if err != nil {
		return "", core.ErrTokenCreationFailed.Wrap(err)
	}
	return req.Type + core.ServiceTokenSeparator + token, nil
}

// VerifyServiceJWT checks a "<type>:<jwt>" token addressed to audience.
func (s *ServiceTokens) VerifyServiceJWT(token, audience string) (*core.ServiceClaims, error) {
	typ, raw, err := SplitServiceToken(token)
	if err != nil {
		return nil, err
	}
	secret, err := s.SecretFor(audience)
	if err != nil {
		return nil, core.ErrInvalidToken.Wrap(err)
	}

	claims, err := s.tokenizer.ParseServiceToken(raw, secret)
	if err != nil {
		return nil, err
	}
	if claims.Audience != audience {
		return nil, core.ErrInvalidToken.Wrap(fmt.Errorf("token audience %q, want %q", claims.Audience, audience))
	}
	if claims.Type != typ {
		return nil, core.ErrInvalidToken.Wrap(fmt.Errorf("type tag %q does not match claim %q", typ, claims.Type))
	}
	return claims, nil
}

// SplitServiceToken separates the type tag from the JWT without parsing it.
func SplitServiceToken(token string) (typ, jwt string, err error) {
	typ, jwt, ok := strings.Cut(token, core.ServiceTokenSeparator)
	if !ok || typ == "" || jwt == "" {
		return "", "", core.ErrInvalidToken.Wrap(fmt.Errorf("service token has no type tag"))
	}
	return typ, jwt, nil
}

// DirectoryCall mints the call metadata for a directory request made on behalf
// of subject.
func (s *ServiceTokens) DirectoryCall(traceID, subject string) (ports.Call, error) {
	settings := s.settings.Current()
	token, err := s.GenerateServiceJWT(core.ServiceTokenRequest{
		Subject:  subject,
		Actor:    settings.Issuer,
		Audience: settings.DirectoryAudience,
		Type:     core.ServiceTokenService,
	})
	if err != nil {
		return ports.Call{}, err
	}
	return ports.Call{TraceID: traceID, Token: token}, nil
}
