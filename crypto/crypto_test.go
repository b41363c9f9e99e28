package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSHA256KnownVector(t *testing.T) {
	h := SHA256([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", toHex(h))
}

func toHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xF]
	}
	return string(out)
}

func TestBase58CheckEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	enc := Base58CheckEncode(payload, "K1")
	dec, err := Base58CheckDecode(enc, "K1")
	assert.NoError(t, err)
	assert.Equal(t, payload, dec)
}

func TestBase58CheckDecodeRejectsWrongSuffix(t *testing.T) {
	payload := []byte{9, 9, 9}
	enc := Base58CheckEncode(payload, "K1")
	_, err := Base58CheckDecode(enc, "R1")
	assert.Error(t, err)
}

func TestBase58CheckDecodeRejectsShortInput(t *testing.T) {
	_, err := Base58CheckDecode("a", "K1")
	assert.Error(t, err)
}
