package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/internal/eth"
	"github.com/layer-3/bastion/ports"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Strategy authenticates one kind of credentials.
type Strategy interface {
	Kind() core.CredentialKind
	Authenticate(ctx context.Context, traceID string, creds core.Credentials) (*core.User, error)
}

// CredentialVerifier dispatches credentials to the strategy registered for their kind.
type CredentialVerifier struct {
	strategies map[core.CredentialKind]Strategy
	nonces     *NonceStore
	logger     *zap.Logger
}

func NewCredentialVerifier(nonces *NonceStore, logger *zap.Logger, strategies ...Strategy) *CredentialVerifier {
	v := &CredentialVerifier{
		strategies: make(map[core.CredentialKind]Strategy, len(strategies)),
		nonces:     nonces,
		logger:     logger,
	}
	for _, s := range strategies {
		v.strategies[s.Kind()] = s
	}
	return v
}

// Authenticate resolves the user the credentials belong to.
func (v *CredentialVerifier) Authenticate(ctx context.Context, traceID string, creds core.Credentials) (*core.User, error) {
	if creds == nil {
		return nil, core.ErrInvalidCredentials
	}
	strategy, ok := v.strategies[creds.Kind()]
	if !ok {
		return nil, core.ErrInvalidCredentials.Wrap(fmt.Errorf("no strategy for %s credentials", creds.Kind()))
	}

	user, err := strategy.Authenticate(ctx, traceID, creds)
	if err != nil {
		v.logger.Info("authentication rejected",
			zap.String("trace_id", traceID),
			zap.String("kind", string(creds.Kind())),
			zap.Error(err),
		)
		return nil, err
	}
	return user, nil
}

// GenerateNonce issues a wallet challenge for address.
func (v *CredentialVerifier) GenerateNonce(ctx context.Context, address string) (*core.Challenge, error) {
	return v.nonces.GenerateNonce(ctx, address)
}

// NativeStrategy checks a login and password against the directory.
type NativeStrategy struct {
	directory ports.Directory
	tokens    *ServiceTokens
}

func NewNativeStrategy(directory ports.Directory, tokens *ServiceTokens) *NativeStrategy {
	return &NativeStrategy{directory: directory, tokens: tokens}
}

func (*NativeStrategy) Kind() core.CredentialKind { return core.CredentialNative }

func (s *NativeStrategy) Authenticate(ctx context.Context, traceID string, creds core.Credentials) (*core.User, error) {
	native, ok := creds.(core.NativeCredentials)
	if !ok || native.Login == "" || native.Password == "" {
		return nil, core.ErrInvalidCredentials
	}

	call, err := s.tokens.DirectoryCall(traceID, native.Login)
	if err != nil {
		return nil, core.ErrAuthenticationFailed.Wrap(err)
	}

	user, err := s.directory.GetUserByLogin(ctx, call, native.Login)
	if errors.Is(err, ports.ErrUserNotFound) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, core.ErrAuthenticationFailed.Wrap(err)
	}
	if user.PasswordHash == "" {
		return nil, core.ErrInvalidCredentials
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(native.Password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, core.ErrInvalidCredentials
	}
	if err != nil {
		return nil, core.ErrAuthenticationFailed.Wrap(err)
	}
	return &core.User{ID: user.ID, Login: user.Login, WalletAddress: user.WalletAddress}, nil
}

// WalletStrategy checks an EIP-712 signature over the pending challenge. Every
// failure is reported as INVALID_CREDENTIALS.
type WalletStrategy struct {
	nonces    *NonceStore
	directory ports.Directory
	tokens    *ServiceTokens
}

func NewWalletStrategy(nonces *NonceStore, directory ports.Directory, tokens *ServiceTokens) *WalletStrategy {
	return &WalletStrategy{nonces: nonces, directory: directory, tokens: tokens}
}

func (*WalletStrategy) Kind() core.CredentialKind { return core.CredentialWallet }

func (s *WalletStrategy) Authenticate(ctx context.Context, traceID string, creds core.Credentials) (*core.User, error) {
	wallet, ok := creds.(core.WalletCredentials)
	if !ok || !eth.IsAddress(wallet.Address) || wallet.Signature == "" {
		return nil, core.ErrInvalidCredentials
	}

	ch, raw, err := s.nonces.Pending(ctx, wallet.Address)
	if err != nil {
		return nil, err
	}

	verified, err := eth.VerifySignatureAgainstAddress(ch, wallet.Signature, wallet.Address)
	if err != nil {
		return nil, core.ErrInvalidCredentials.Wrap(err)
	}
	if !verified {
		return nil, core.ErrInvalidCredentials.Wrap(fmt.Errorf("signer does not match %s", wallet.Address))
	}
	if err := s.nonces.Complete(ctx, wallet.Address, raw); err != nil {
		return nil, err
	}

	address := strings.ToLower(wallet.Address)
	call, err := s.tokens.DirectoryCall(traceID, address)
	if err != nil {
		return nil, core.ErrInvalidCredentials.Wrap(err)
	}
	user, err := s.directory.EnsureUserExists(ctx, call, address)
	if err != nil {
		return nil, core.ErrInvalidCredentials.Wrap(err)
	}
	return &core.User{ID: user.ID, WalletAddress: address}, nil
}

// OAuthStrategy rejects every provider; none is implemented.
type OAuthStrategy struct{}

func (OAuthStrategy) Kind() core.CredentialKind { return core.CredentialOAuth }

func (OAuthStrategy) Authenticate(ctx context.Context, traceID string, creds core.Credentials) (*core.User, error) {
	provider := ""
	if oauth, ok := creds.(core.OAuthCredentials); ok {
		provider = oauth.Provider
	}
	return nil, core.ErrInvalidCredentials.Wrap(fmt.Errorf("oauth provider %q not supported", provider))
}
