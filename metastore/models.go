// Package metastore implements C2: transactional key-value persistence
// for contract state, chunk lists, challenges, and reference counts, on
// top of gorm.io/gorm (sqlite driver for single-node operation). Gorm's
// struct-tag models map directly onto the logical tables of spec.md
// §4.2; the three small membership tables (contract_set, sync_set,
// proof_set) collapse into one `membership` table keyed by
// (set_name, contract_id), and variant/sum-type columns (ContractState,
// the chunk list) are stored as datatypes.JSON.
package metastore

import (
	"time"

	"gorm.io/datatypes"
)

// ContractRow is the `contract` table: one immutable Contract record per
// row, keyed by contract_id.
type ContractRow struct {
	ContractID   string `gorm:"primaryKey;column:contract_id"`
	Customer     string
	Miner        string
	OrderID      string `gorm:"column:order_id;index"`
	MinerAccount string

	DeclaredMerkleRoot []byte
	DeclaredPieceCount uint64
	ChunkSize          uint64
}

// ContractInfoRow is the `contract_info` table: the miner-private control
// block for one contract.
type ContractInfoRow struct {
	ContractID      string `gorm:"primaryKey;column:contract_id"`
	Status          int
	LatestCheckTime time.Time
	MetaMerkle      datatypes.JSON // [][32]byte, hex-encoded
	StoredSize      uint64
	SumSize         uint64
}

// ContractStateRow backs both `contract_state` (the stable head,
// set_name = "head") and `syncing_state` (the pending ingest head,
// set_name = "syncing") — both are one state per contract, just with a
// different tag, so they share a table keyed by (contract_id, set_name).
type ContractStateRow struct {
	ContractID string `gorm:"primaryKey;column:contract_id"`
	SetName    string `gorm:"primaryKey;column:set_name"`
	State      datatypes.JSON
}

// StateByIDRow is the `state_by_id` table: the full history of
// ContractState records, keyed by their own StateID so the state chain
// can be walked by PrevChange.
type StateByIDRow struct {
	StateID    string `gorm:"primaryKey;column:state_id"`
	ContractID string `gorm:"index"`
	State      datatypes.JSON
}

// ChunkListRow is the `chunk_list` table: the accepted [ChunkId] for a
// contract once it has synced.
type ChunkListRow struct {
	ContractID string `gorm:"primaryKey;column:contract_id"`
	ChunkList  datatypes.JSON // []ChunkId, hex-encoded
}

// ChallengeRow is the `challenge` table: the single outstanding off-chain
// challenge for a contract, if any.
type ChallengeRow struct {
	ContractID string `gorm:"primaryKey;column:contract_id"`
	Challenge  datatypes.JSON
}

// MembershipRow backs contract_set, sync_set, and proof_set: a set of
// contract_ids tagged by which logical set they belong to.
type MembershipRow struct {
	SetName    string `gorm:"primaryKey;column:set_name"`
	ContractID string `gorm:"primaryKey;column:contract_id"`
}

// ChunkRefRow is one (chunk_id, contract_id) edge of the chunk_refs
// ChunkId -> set-of-contract_ids map.
type ChunkRefRow struct {
	ChunkID    string `gorm:"primaryKey;column:chunk_id"`
	ContractID string `gorm:"primaryKey;column:contract_id"`
}

// DelSetRow is the `del_set` table: chunk ids queued for eventual
// deletion once their reference count reaches zero.
type DelSetRow struct {
	ChunkID string `gorm:"primaryKey;column:chunk_id"`
}

// DMCOrderIndexRow is the `dmc_order_index` table: order_id -> contract_id,
// so an on-chain poll keyed by order can find the local contract.
type DMCOrderIndexRow struct {
	OrderID    string `gorm:"primaryKey;column:order_id"`
	ContractID string `gorm:"index"`
}

// OnChainSubstateRow persists the on-chain challenge sub-state
// {RespChallenge, Arbitration} across restarts (SPEC_FULL.md §4.6
// [ADD]), resolving spec.md §9's noted fragility where a crash between
// answer_challenge and the next poll could repeat the answer.
type OnChainSubstateRow struct {
	ContractID string `gorm:"primaryKey;column:contract_id"`
	State      int
	AnsweredAt time.Time
}

// AllModels lists every table for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&ContractRow{},
		&ContractInfoRow{},
		&ContractStateRow{},
		&StateByIDRow{},
		&ChunkListRow{},
		&ChallengeRow{},
		&MembershipRow{},
		&ChunkRefRow{},
		&DelSetRow{},
		&DMCOrderIndexRow{},
		&OnChainSubstateRow{},
	}
}
