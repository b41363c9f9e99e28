// Package signer manages the secp256k1 identities used throughout this
// system: the miner's own identity, and the identities of customer devices
// it verifies messages against.
//
// Every actor in the DMC storage protocol - the miner, a customer device,
// and the on-chain account - is keyed with the same curve, so a single
// Signer type backs both the chain transaction signer (package chain, K1
// signatures with base58-with-checksum encoding) and the customer/miner
// wire signer (package wire, Ethereum-style recoverable signatures via
// WireSigner).
package signer

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/everFinance/goether"
)

// Signer holds a secp256k1 key pair and the derived wire-protocol signer.
type Signer struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  *btcec.PublicKey
	WireSigner *goether.Signer
}

// New generates a new random secp256k1 identity.
func New() (*Signer, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return fromPrivateKey(key)
}

// FromHex loads a Signer from a hex-encoded secp256k1 private key.
func FromHex(hexKey string) (*Signer, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: decode key: %w", err)
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return fromPrivateKey(key)
}

// FromPath loads a Signer from a file containing a hex-encoded private key.
func FromPath(path string) (*Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read key file: %w", err)
	}
	return FromHex(string(b))
}

func fromPrivateKey(key *btcec.PrivateKey) (*Signer, error) {
	wireSigner, err := goether.NewSigner(hex.EncodeToString(key.Serialize()))
	if err != nil {
		return nil, fmt.Errorf("signer: derive wire signer: %w", err)
	}
	return &Signer{
		PrivateKey: key,
		PublicKey:  key.PubKey(),
		WireSigner: wireSigner,
	}, nil
}

// Address returns the hex address derived from the public key, used to
// identify devices on the customer/miner wire (package wire).
func (s *Signer) Address() string {
	return s.WireSigner.Address.String()
}

// Generate creates a new hex-encoded secp256k1 private key, suitable for
// writing to the file FromPath reads.
func Generate() (string, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("signer: generate key: %w", err)
	}
	return hex.EncodeToString(key.Serialize()), nil
}
