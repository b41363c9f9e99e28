package chain

import (
	"encoding/hex"

	"github.com/dmc-network/dsg-miner/types"
)

// ChainInfo mirrors get_info's response, needed (per SPEC_FULL.md §4.4
// [ADD]) to source ref_block_num/ref_block_prefix before every push.
type ChainInfo struct {
	HeadBlockNum uint32
	HeadBlockID  []byte
	ChainID      []byte
}

// BlockInfo mirrors get_block_info's response for one block height.
type BlockInfo struct {
	BlockNum uint32
	BlockID  []byte
}

// addMerkleData is the ABI payload for the add_merkle action.
type addMerkleData struct {
	OrderID    string `json:"order_id"`
	Root       string `json:"root"` // hex
	PieceCount uint64 `json:"piece_count"`
}

// answerChallengeData is the ABI payload for answer_challenge.
type answerChallengeData struct {
	OrderID   string `json:"order_id"`
	ReplyHash string `json:"reply_hash"` // hex
}

// arbitrationData is the ABI payload for arbitration.
type arbitrationData struct {
	OrderID    string   `json:"order_id"`
	PieceBytes string   `json:"piece_bytes"` // hex
	AuthPath   []string `json:"auth_path"`   // hex, root-ward order
}

// cyfsInfoData is the ABI payload for report_cyfs_info.
type cyfsInfoData struct {
	Addr string `json:"addr"`
	HTTP string `json:"http"`
	V    uint32 `json:"v"`
}

func encodeAuthPath(path [][32]byte) []string {
	out := make([]string, len(path))
	for i, h := range path {
		out[i] = hex.EncodeToString(h[:])
	}
	return out
}

// Client is the message-level contract spec.md §4.4 defines: get_order,
// get_cyfs_info, get_challenge_info, add_merkle, answer_challenge,
// arbitration, report_cyfs_info, plus the [ADD] get_info/get_block_info
// calls needed to source transaction header fields.
type Client interface {
	GetOrder(orderID string) (*types.Order, error)
	GetCyfsInfo(account string) (*types.CyfsInfo, error)
	GetChallengeInfo(orderID string) (*types.ChallengeInfo, error)
	AddMerkle(orderID string, root [32]byte, pieceCount uint64) error
	AnswerChallenge(orderID string, replyHash []byte) error
	Arbitration(orderID string, pieceBytes []byte, authPath [][32]byte) error
	ReportCyfsInfo(info types.CyfsInfo) error
	GetChainInfo() (*ChainInfo, error)
	GetBlockInfo(refBlockNum uint32) (*BlockInfo, error)
}
