package types

import (
	"time"

	"github.com/bits-and-blooms/bitset"
)

// ChallengeKind distinguishes a customer off-chain challenge over the
// contract's full chunk list from one scoped to a single state's chunks.
type ChallengeKind int

const (
	ChallengeFull ChallengeKind = iota
	ChallengeState
)

func (k ChallengeKind) String() string {
	if k == ChallengeState {
		return "State"
	}
	return "Full"
}

// Challenge is an off-chain possession challenge posed by a customer.
// PieceIndices is a bitset rather than a slice: a challenge can name any
// subset of a piece range that spans millions of leaves for a large
// contract, and a bitset is the compact representation for that.
type Challenge struct {
	ContractID   ContractID
	StateID      StateID
	PieceIndices *bitset.BitSet
	Nonce        []byte
	ExpireAt     time.Time
	Kind         ChallengeKind
}

// Expired reports whether the challenge's expiry has passed as of now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpireAt)
}

// Proof is a piece of chunk/metadata data plus the sibling hashes needed
// to recompute the path to a Merkle root.
type Proof struct {
	PieceIndex uint64
	PieceBytes []byte
	AuthPath   [][32]byte
}

// ChainChallengeState is the state of an on-chain order's challenge
// sub-machine, as reported by get_challenge_info and as locally tracked
// while answering it.
type ChainChallengeState int

const (
	ChainChallengeNone ChainChallengeState = iota
	ChainChallengeRequest
	ChainChallengeRespChallenge
	ChainChallengeArbitration
)

func (s ChainChallengeState) String() string {
	switch s {
	case ChainChallengeRequest:
		return "ChallengeRequest"
	case ChainChallengeRespChallenge:
		return "RespChallenge"
	case ChainChallengeArbitration:
		return "Arbitration"
	default:
		return "None"
	}
}

// ChallengeInfo mirrors the row returned by the chain client's
// get_challenge_info call for one order.
type ChallengeInfo struct {
	DataID              uint64
	Nonce               []byte
	State               ChainChallengeState
	PreMerkleRoot       []byte
	PreMerkleBlockCount uint64
}
