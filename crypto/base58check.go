package crypto

import (
	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for EOSIO-family K1 checksum compat
)

// Base58CheckEncode encodes payload with the suffix-keyed checksum scheme
// DMC's chain (an EOSIO-family chain) uses for K1 keys and signatures:
// checksum = ripemd160(payload ++ suffix)[:4], appended after payload, the
// whole thing base58-encoded. This differs from Bitcoin's base58check
// (double-SHA256, no suffix) so it is implemented directly rather than
// reused from btcutil/base58's CheckEncode.
func Base58CheckEncode(payload []byte, suffix string) string {
	h := ripemd160.New()
	h.Write(payload)
	h.Write([]byte(suffix))
	checksum := h.Sum(nil)[:4]

	buf := make([]byte, 0, len(payload)+4)
	buf = append(buf, payload...)
	buf = append(buf, checksum...)
	return base58.Encode(buf)
}

// Base58CheckDecode reverses Base58CheckEncode, verifying the checksum.
func Base58CheckDecode(s string, suffix string) ([]byte, error) {
	decoded := base58.Decode(s)
	if len(decoded) < 4 {
		return nil, errShortBase58Check
	}
	payload := decoded[:len(decoded)-4]
	wantChecksum := decoded[len(decoded)-4:]

	h := ripemd160.New()
	h.Write(payload)
	h.Write([]byte(suffix))
	gotChecksum := h.Sum(nil)[:4]

	for i := range wantChecksum {
		if wantChecksum[i] != gotChecksum[i] {
			return nil, errBadBase58Checksum
		}
	}
	return payload, nil
}
