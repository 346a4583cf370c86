package eth

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/bastion/core"
	"github.com/stretchr/testify/require"
)

func testChallenge(address string) *core.Challenge {
	return &core.Challenge{
		Domain: core.ChallengeDomain{
			Name:              "Bastion",
			Version:           "1",
			ChainID:           1,
			VerifyingContract: ZeroAddress,
		},
		Message:   "Sign in to Bastion",
		Nonce:     "123456789",
		Timestamp: 1700000000,
		Address:   address,
	}
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	ch := testChallenge(address)
	sig, err := Sign(ch, key)
	require.NoError(t, err)

	t.Run("matching address", func(t *testing.T) {
		ok, err := VerifySignatureAgainstAddress(ch, sig, address)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("address case does not matter", func(t *testing.T) {
		ok, err := VerifySignatureAgainstAddress(ch, sig, strings.ToLower(address))
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("mutated nonce", func(t *testing.T) {
		mutated := *ch
		mutated.Nonce = "987654321"
		ok, err := VerifySignatureAgainstAddress(&mutated, sig, address)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("other signer", func(t *testing.T) {
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		otherSig, err := Sign(ch, other)
		require.NoError(t, err)

		ok, err := VerifySignatureAgainstAddress(ch, otherSig, address)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("malformed signature", func(t *testing.T) {
		_, err := VerifySignatureAgainstAddress(ch, "0x1234", address)
		require.ErrorIs(t, err, ErrInvalidSignature)

		_, err = VerifySignatureAgainstAddress(ch, "not-hex", address)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestRecoverAddressAcceptsRawRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	ch := testChallenge(address.Hex())
	hash, err := Hash(ch)
	require.NoError(t, err)

	raw, err := crypto.Sign(hash, key)
	require.NoError(t, err)

	recovered, err := RecoverAddress(hash, hexutil.Encode(raw))
	require.NoError(t, err)
	require.Equal(t, address, recovered)
}

func TestTypedDataShape(t *testing.T) {
	td := TypedData(testChallenge(ZeroAddress))
	require.Equal(t, PrimaryType, td.PrimaryType)
	require.Contains(t, td.Types, "EIP712Domain")
	require.Len(t, td.Types[PrimaryType], 4)
	require.Equal(t, "123456789", td.Message["nonce"])
	require.Equal(t, "1700000000", td.Message["timestamp"])
	require.Equal(t, ZeroAddress, td.Domain.VerifyingContract)
}

func TestIsAddress(t *testing.T) {
	require.True(t, IsAddress("0x00000000000000000000000000000000000000aB"))
	require.False(t, IsAddress("0x1234"))
	require.False(t, IsAddress("hello"))
}
