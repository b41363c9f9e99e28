package chain

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"

	"github.com/dmc-network/dsg-miner/crypto"
)

func TestNameEncodeDecodeRoundTrip(t *testing.T) {
	names := []string{"", "a", "miner1", "dmc.account1", "alice.111"}
	for _, n := range names {
		v, err := NameEncode(n)
		assert.NoError(t, err, n)
		assert.Equal(t, n, NameDecode(v), n)
	}
}

func TestNameEncode13thCharBoundary(t *testing.T) {
	v, err := NameEncode("abcdefghijklj")
	assert.NoError(t, err)
	assert.Equal(t, "abcdefghijklj", NameDecode(v))

	_, err = NameEncode("abcdefghijklz")
	assert.Error(t, err)
}

func TestNameEncodeRejectsTooLong(t *testing.T) {
	_, err := NameEncode("abcdefghijklmn")
	assert.Error(t, err)
}

func TestNameEncodeRejectsInvalidChar(t *testing.T) {
	_, err := NameEncode("MINER")
	assert.Error(t, err)
}

func TestBase58CheckRoundTripViaSignature(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	assert.NoError(t, err)

	digest := make([]byte, 32)
	_, err = rand.Read(digest)
	assert.NoError(t, err)

	sig, err := Sign(key, digest)
	assert.NoError(t, err)
	assert.Contains(t, sig, SigPrefix)

	ok, err := VerifyRecover(sig, digest, key.PubKey().SerializeCompressed())
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRecoverRejectsWrongKey(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	assert.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	assert.NoError(t, err)

	digest := make([]byte, 32)
	_, err = rand.Read(digest)
	assert.NoError(t, err)

	sig, err := Sign(key, digest)
	assert.NoError(t, err)

	ok, err := VerifyRecover(sig, digest, other.PubKey().SerializeCompressed())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSignRejectsShortDigest(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	assert.NoError(t, err)
	_, err = Sign(key, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEncodePublicKeyDecodesBackToSameBytes(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	assert.NoError(t, err)
	pubStr := EncodePublicKey(key.PubKey())
	assert.Contains(t, pubStr, PubKeyPrefix)

	decoded, err := crypto.Base58CheckDecode(pubStr[len(PubKeyPrefix):], "K1")
	assert.NoError(t, err)
	assert.Equal(t, key.PubKey().SerializeCompressed(), decoded)
}

func TestSigDigestIsDeterministic(t *testing.T) {
	chainID := []byte{1, 2, 3}
	trx := []byte{4, 5, 6}
	ctxFree := []byte{7, 8, 9}
	d1 := SigDigest(chainID, trx, ctxFree)
	d2 := SigDigest(chainID, trx, ctxFree)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 32)
}
