package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/internal/eth"
	"github.com/layer-3/bastion/ports"
)

var maxNonce = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// NonceStore issues single-use wallet challenges. A challenge stays pending
// until a signature over it verifies or it expires.
type NonceStore struct {
	cache    ports.Cache
	settings *SettingsStore
	now      func() time.Time
}

func NewNonceStore(cache ports.Cache, settings *SettingsStore) *NonceStore {
	return &NonceStore{cache: cache, settings: settings, now: time.Now}
}

func nonceKey(address string) string {
	return "nonce:" + strings.ToLower(address)
}

// GenerateNonce builds a fresh challenge for address and stores it, replacing
// any earlier one.
func (n *NonceStore) GenerateNonce(ctx context.Context, address string) (*core.Challenge, error) {
	if !eth.IsAddress(address) {
		return nil, core.ErrInvalidCredentials.Wrap(fmt.Errorf("malformed address %q", address))
	}

	nonce, err := rand.Int(rand.Reader, maxNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	settings := n.settings.Current()
	domain := settings.Domain
	domain.VerifyingContract = eth.ZeroAddress

	ch := &core.Challenge{
		Domain:    domain,
		Message:   settings.ChallengeMessage,
		Nonce:     nonce.String(),
		Timestamp: n.now().Unix(),
		Address:   address,
	}
	if err := ports.SetJSON(ctx, n.cache, nonceKey(address), ch, settings.NonceExpiry); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return ch, nil
}

// Pending returns the challenge of address together with its stored form,
// which Complete needs to remove exactly this challenge.
func (n *NonceStore) Pending(ctx context.Context, address string) (*core.Challenge, string, error) {
	key := nonceKey(address)
	raw, err := n.cache.Get(ctx, key)
	if errors.Is(err, ports.ErrCacheMiss) {
		return nil, "", core.ErrInvalidCredentials.Wrap(fmt.Errorf("no challenge for %s", address))
	}
	if err != nil {
		return nil, "", core.ErrInvalidCredentials.Wrap(err)
	}

	var ch core.Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, "", core.ErrInvalidCredentials.Wrap(fmt.Errorf("failed to decode %s: %w", key, err))
	}
	return &ch, raw, nil
}

// Complete removes the challenge of address if it still holds raw. Only one of
// several concurrent verifiers of the same challenge gets true back from the
// compare-delete; the others fail.
func (n *NonceStore) Complete(ctx context.Context, address, raw string) error {
	removed, err := n.cache.DelIfEqual(ctx, nonceKey(address), raw)
	if err != nil {
		return core.ErrInvalidCredentials.Wrap(err)
	}
	if !removed {
		return core.ErrInvalidCredentials.Wrap(fmt.Errorf("challenge for %s already used", address))
	}
	return nil
}
