package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/dmc-network/dsg-miner/crypto"
	"github.com/dmc-network/dsg-miner/types"
)

// SigPrefix is EOSIO's signature-string tag for a K1 (secp256k1) curve
// signature, per spec.md §6.
const SigPrefix = "SIG_K1_"

// PubKeyPrefix is EOSIO's public-key-string tag for a K1 curve key.
const PubKeyPrefix = "PUB_K1_"

// SigDigest computes the message digest a K1 signature is taken over:
// SHA256(chain_id ++ trx_bytes ++ ctx_free_hash), per spec.md §4.4.
func SigDigest(chainID []byte, trxBytes []byte, ctxFreeHash []byte) []byte {
	buf := make([]byte, 0, len(chainID)+len(trxBytes)+len(ctxFreeHash))
	buf = append(buf, chainID...)
	buf = append(buf, trxBytes...)
	buf = append(buf, ctxFreeHash...)
	return crypto.SHA256(buf)
}

// Sign produces a canonical low-S secp256k1 signature over digest and
// renders it in EOSIO's SIG_K1_<base58check> string form. btcec/v2/ecdsa's
// SignCompact already canonicalizes S and prepends the recovery byte, so
// this only needs to re-encode that compact form with the K1 checksum
// suffix spec.md §4.4 calls for instead of Bitcoin's.
func Sign(key *btcec.PrivateKey, digest []byte) (string, error) {
	if len(digest) != 32 {
		return "", types.NewError(types.InvalidInput, fmt.Errorf("chain: digest must be 32 bytes, got %d", len(digest)))
	}
	compact := ecdsa.SignCompact(key, digest, true)
	return SigPrefix + crypto.Base58CheckEncode(compact, "K1"), nil
}

// VerifyRecover recovers the signer's public key from sig and digest and
// reports whether it matches wantPub (compressed SEC1 bytes).
func VerifyRecover(sig string, digest []byte, wantPub []byte) (bool, error) {
	compact, err := decodeSig(sig)
	if err != nil {
		return false, err
	}
	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return false, types.NewError(types.Cryptographic, err)
	}
	got := pub.SerializeCompressed()
	if len(got) != len(wantPub) {
		return false, nil
	}
	for i := range got {
		if got[i] != wantPub[i] {
			return false, nil
		}
	}
	return true, nil
}

func decodeSig(sig string) ([]byte, error) {
	const prefix = SigPrefix
	if len(sig) <= len(prefix) || sig[:len(prefix)] != prefix {
		return nil, types.NewError(types.InvalidInput, fmt.Errorf("chain: signature missing %s prefix", prefix))
	}
	compact, err := crypto.Base58CheckDecode(sig[len(prefix):], "K1")
	if err != nil {
		return nil, types.NewError(types.Cryptographic, err)
	}
	return compact, nil
}

// EncodePublicKey renders a compressed secp256k1 public key in EOSIO's
// PUB_K1_<base58check> string form.
func EncodePublicKey(pub *btcec.PublicKey) string {
	return PubKeyPrefix + crypto.Base58CheckEncode(pub.SerializeCompressed(), "K1")
}
