package contract

import (
	"github.com/hamba/avro"

	"github.com/dmc-network/dsg-miner/types"
)

// metaBlockSchema describes the `{contract, state_list}` record serialized
// into the metadata block every contract's Merkle tree commits alongside
// its chunk data (spec.md §4.6 step 3). hamba/avro — the teacher's
// declared avro codec, kept in place of its sibling linkedin/goavro/v2
// (see DESIGN.md) — gives this a schema-typed round trip instead of a
// hand-rolled binary layout.
var metaBlockSchema = avro.MustParse(`{
	"type": "record",
	"name": "MetaBlock",
	"fields": [
		{"name": "contract", "type": {
			"type": "record", "name": "MetaContract",
			"fields": [
				{"name": "contract_id", "type": "bytes"},
				{"name": "customer", "type": "string"},
				{"name": "miner", "type": "string"},
				{"name": "order_id", "type": "string"},
				{"name": "miner_account", "type": "string"},
				{"name": "declared_merkle_root", "type": "bytes"},
				{"name": "declared_piece_count", "type": "long"},
				{"name": "chunk_size", "type": "long"}
			]
		}},
		{"name": "states", "type": {"type": "array", "items": {
			"type": "record", "name": "MetaState",
			"fields": [
				{"name": "state_id", "type": "bytes"},
				{"name": "kind", "type": "int"},
				{"name": "prev_change", "type": "bytes"},
				{"name": "chunks", "type": {"type": "array", "items": "bytes"}},
				{"name": "stored_hash", "type": "bytes"}
			]
		}}}
	]
}`)

type metaContract struct {
	ContractID         []byte `avro:"contract_id"`
	Customer           string `avro:"customer"`
	Miner              string `avro:"miner"`
	OrderID            string `avro:"order_id"`
	MinerAccount       string `avro:"miner_account"`
	DeclaredMerkleRoot []byte `avro:"declared_merkle_root"`
	DeclaredPieceCount int64  `avro:"declared_piece_count"`
	ChunkSize          int64  `avro:"chunk_size"`
}

type metaState struct {
	StateID    []byte   `avro:"state_id"`
	Kind       int32    `avro:"kind"`
	PrevChange []byte   `avro:"prev_change"`
	Chunks     [][]byte `avro:"chunks"`
	StoredHash []byte   `avro:"stored_hash"`
}

type metaBlock struct {
	Contract metaContract `avro:"contract"`
	States   []metaState  `avro:"states"`
}

// BuildMetadataBlock serializes {contract, state_list} into the bytes the
// Merkle Engine chunks and hashes into meta_merkle, per spec.md §4.6
// step 3. states is expected oldest-last (head first), matching WalkStates.
func BuildMetadataBlock(c types.Contract, states []types.ContractState) ([]byte, error) {
	mb := metaBlock{
		Contract: metaContract{
			ContractID:         c.ContractID[:],
			Customer:           c.Customer,
			Miner:              c.Miner,
			OrderID:            c.OrderID,
			MinerAccount:       c.MinerAccount,
			DeclaredMerkleRoot: c.DeclaredMerkleRoot,
			DeclaredPieceCount: int64(c.DeclaredPieceCount),
			ChunkSize:          int64(c.ChunkSize),
		},
	}
	for _, s := range states {
		ms := metaState{
			StateID:    s.StateID[:],
			Kind:       int32(s.Kind),
			PrevChange: s.PrevChange[:],
			StoredHash: s.StoredHash,
		}
		for _, chunk := range s.Chunks {
			ms.Chunks = append(ms.Chunks, chunk.Bytes())
		}
		mb.States = append(mb.States, ms)
	}
	b, err := avro.Marshal(metaBlockSchema, mb)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	return b, nil
}
