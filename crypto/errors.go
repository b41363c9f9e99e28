package crypto

import "errors"

var (
	errShortBase58Check  = errors.New("crypto: base58check payload too short")
	errBadBase58Checksum = errors.New("crypto: base58check checksum mismatch")
)
