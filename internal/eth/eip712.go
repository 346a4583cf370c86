// Package eth renders wallet challenges as EIP-712 typed data and recovers the
// signing address from a typed-data signature.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/bastion/core"
)

// PrimaryType is the struct name wallets display when asked to sign a challenge.
const PrimaryType = "Authentication"

// ZeroAddress is used as verifyingContract: the challenge is not bound to a contract.
var ZeroAddress = common.Address{}.Hex()

// ErrInvalidSignature is returned for malformed signatures.
var ErrInvalidSignature = errors.New("invalid signature")

var authenticationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "message", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "timestamp", Type: "uint256"},
		{Name: "address", Type: "address"},
	},
}

// IsAddress reports whether s is a 20-byte hex address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// TypedData renders a challenge as EIP-712 typed data.
func TypedData(ch *core.Challenge) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       authenticationTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              ch.Domain.Name,
			Version:           ch.Domain.Version,
			ChainId:           math.NewHexOrDecimal256(ch.Domain.ChainID),
			VerifyingContract: ch.Domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"message":   ch.Message,
			"nonce":     ch.Nonce,
			"timestamp": strconv.FormatInt(ch.Timestamp, 10),
			"address":   ch.Address,
		},
	}
}

// Hash returns the EIP-712 digest of a challenge.
func Hash(ch *core.Challenge) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(ch))
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// RecoverAddress returns the address that produced signature over hash.
// Both wallet-style (v = 27/28) and raw (v = 0/1) recovery ids are accepted.
func RecoverAddress(hash []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", ErrInvalidSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, ErrInvalidSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", ErrInvalidSignature)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignatureAgainstAddress reports whether signature over the challenge
// was produced by address.
func VerifySignatureAgainstAddress(ch *core.Challenge, signature, address string) (bool, error) {
	hash, err := Hash(ch)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, err
	}
	return recovered == common.HexToAddress(address), nil
}

// Sign signs a challenge the way a wallet does (v = 27/28).
func Sign(ch *core.Challenge, key *ecdsa.PrivateKey) (string, error) {
	hash, err := Hash(ch)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
