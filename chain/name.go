// Package chain implements C4's message-level contract against the DMC
// chain: an EOSIO-family chain reached over JSON-over-HTTP, with signed
// transactions framed in EOSIO's compact tagged-binary encoding. spec.md
// §1 treats the chain RPC client as an external collaborator and
// specifies it only at the message level; this package is the concrete
// client that satisfies that contract, since nothing else in this system
// can submit add_merkle/answer_challenge/arbitration.
package chain

import (
	"fmt"

	"github.com/dmc-network/dsg-miner/types"
)

// nameCharset maps a name character to its 5-bit value: '.' -> 0,
// '1'..'5' -> 1..5, 'a'..'z' -> 6..31. This is EOSIO's account-name
// packing, consistent with the "name" vocabulary in spec.md §6.
const nameCharset = ".12345abcdefghijklmnopqrstuvwxyz"

func charToValue(c byte) (uint64, error) {
	for i := 0; i < len(nameCharset); i++ {
		if nameCharset[i] == c {
			return uint64(i), nil
		}
	}
	return 0, types.NewError(types.InvalidInput, fmt.Errorf("chain: invalid name character %q", c))
}

func valueToChar(v uint64) byte {
	if v >= uint64(len(nameCharset)) {
		return '.'
	}
	return nameCharset[v]
}

// NameEncode packs a chain account-name string into its uint64
// representation, matching the grammar `^[.1-5a-z]{0,12}[.1-5a-j]?$`: the
// first 12 characters carry 5 bits each, and the 13th (if present) is
// restricted to values 0-15 (a-j) and carries only 4 bits.
func NameEncode(s string) (uint64, error) {
	if len(s) > 13 {
		return 0, types.NewError(types.InvalidInput, fmt.Errorf("chain: name %q longer than 13 characters", s))
	}
	var value uint64
	for i := 0; i < 12; i++ {
		var c byte = '.'
		if i < len(s) {
			c = s[i]
		}
		v, err := charToValue(c)
		if err != nil {
			return 0, err
		}
		value |= v << uint(64-5*(i+1))
	}
	if len(s) == 13 {
		v, err := charToValue(s[12])
		if err != nil {
			return 0, err
		}
		if v > 15 {
			return 0, types.NewError(types.InvalidInput, fmt.Errorf("chain: 13th name character %q must be in a-j/1-5/.", s[12]))
		}
		value |= v
	}
	return value, nil
}

// NameDecode unpacks a uint64 chain name back into its string form,
// trimming trailing '.' padding.
func NameDecode(v uint64) string {
	var buf [13]byte
	for i := 0; i < 12; i++ {
		shift := uint(64 - 5*(i+1))
		buf[i] = valueToChar((v >> shift) & 0x1F)
	}
	buf[12] = valueToChar(v & 0x0F)

	end := 13
	for end > 0 && buf[end-1] == '.' {
		end--
	}
	return string(buf[:end])
}
