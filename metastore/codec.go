package metastore

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/bits-and-blooms/bitset"
	"gorm.io/datatypes"

	"github.com/dmc-network/dsg-miner/types"
)

// jsonChunkId is the wire shape of types.ChunkId inside a JSON column:
// hex hash plus length, rather than the raw struct (whose [32]byte array
// does not round-trip through encoding/json in a readable form).
type jsonChunkId struct {
	Hash   string `json:"hash"`
	Length uint32 `json:"length"`
}

func toJSONChunkId(id types.ChunkId) jsonChunkId {
	return jsonChunkId{Hash: hex.EncodeToString(id.Hash[:]), Length: id.Length}
}

func (j jsonChunkId) toChunkId() (types.ChunkId, error) {
	b, err := hex.DecodeString(j.Hash)
	if err != nil {
		return types.ChunkId{}, types.NewError(types.InvalidData, err)
	}
	return types.NewChunkId(b, j.Length)
}

func encodeChunkList(list []types.ChunkId) (datatypes.JSON, error) {
	out := make([]jsonChunkId, len(list))
	for i, id := range list {
		out[i] = toJSONChunkId(id)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	return datatypes.JSON(b), nil
}

func decodeChunkList(j datatypes.JSON) ([]types.ChunkId, error) {
	if len(j) == 0 {
		return nil, nil
	}
	var raw []jsonChunkId
	if err := json.Unmarshal(j, &raw); err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	out := make([]types.ChunkId, len(raw))
	for i, r := range raw {
		id, err := r.toChunkId()
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// jsonContractState is the wire shape of types.ContractState.
type jsonContractState struct {
	StateID    string `json:"state_id"`
	Kind       int    `json:"kind"`
	PrevChange string `json:"prev_change,omitempty"`
	Chunks     []jsonChunkId `json:"chunks,omitempty"`
	StoredHash string `json:"stored_hash,omitempty"`
}

func encodeState(s types.ContractState) (datatypes.JSON, error) {
	js := jsonContractState{
		StateID:    hex.EncodeToString(s.StateID[:]),
		Kind:       int(s.Kind),
		StoredHash: hex.EncodeToString(s.StoredHash),
	}
	if !s.PrevChange.IsZero() {
		js.PrevChange = hex.EncodeToString(s.PrevChange[:])
	}
	for _, c := range s.Chunks {
		js.Chunks = append(js.Chunks, toJSONChunkId(c))
	}
	b, err := json.Marshal(js)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	return datatypes.JSON(b), nil
}

func decodeState(j datatypes.JSON) (types.ContractState, error) {
	var js jsonContractState
	if err := json.Unmarshal(j, &js); err != nil {
		return types.ContractState{}, types.NewError(types.InvalidData, err)
	}
	var s types.ContractState
	idBytes, err := hex.DecodeString(js.StateID)
	if err != nil {
		return types.ContractState{}, types.NewError(types.InvalidData, err)
	}
	copy(s.StateID[:], idBytes)
	s.Kind = types.ContractStateKind(js.Kind)
	if js.PrevChange != "" {
		prevBytes, err := hex.DecodeString(js.PrevChange)
		if err != nil {
			return types.ContractState{}, types.NewError(types.InvalidData, err)
		}
		copy(s.PrevChange[:], prevBytes)
	}
	for _, c := range js.Chunks {
		id, err := c.toChunkId()
		if err != nil {
			return types.ContractState{}, err
		}
		s.Chunks = append(s.Chunks, id)
	}
	if js.StoredHash != "" {
		s.StoredHash, err = hex.DecodeString(js.StoredHash)
		if err != nil {
			return types.ContractState{}, types.NewError(types.InvalidData, err)
		}
	}
	return s, nil
}

func encodeMetaMerkle(roots [][32]byte) (datatypes.JSON, error) {
	out := make([]string, len(roots))
	for i, r := range roots {
		out[i] = hex.EncodeToString(r[:])
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	return datatypes.JSON(b), nil
}

func decodeMetaMerkle(j datatypes.JSON) ([][32]byte, error) {
	if len(j) == 0 {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal(j, &raw); err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	out := make([][32]byte, len(raw))
	for i, s := range raw {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, types.NewError(types.InvalidData, err)
		}
		copy(out[i][:], b)
	}
	return out, nil
}

// jsonChallenge is the wire shape of types.Challenge: the bitset is
// marshaled through its own binary codec into a []byte field, which
// encoding/json renders as base64 in the JSON column (as it does Nonce).
type jsonChallenge struct {
	ContractID   string `json:"contract_id"`
	StateID      string `json:"state_id"`
	PieceIndices []byte `json:"piece_indices"`
	Nonce        []byte `json:"nonce"`
	ExpireAt     int64  `json:"expire_at"`
	Kind         int    `json:"kind"`
}

func encodeChallenge(c types.Challenge) (datatypes.JSON, error) {
	var bits []byte
	if c.PieceIndices != nil {
		b, err := c.PieceIndices.MarshalBinary()
		if err != nil {
			return nil, types.NewError(types.Fatal, err)
		}
		bits = b
	}
	js := jsonChallenge{
		ContractID:   c.ContractID.String(),
		StateID:      hex.EncodeToString(c.StateID[:]),
		PieceIndices: bits,
		Nonce:        c.Nonce,
		ExpireAt:     c.ExpireAt.Unix(),
		Kind:         int(c.Kind),
	}
	b, err := json.Marshal(js)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	return datatypes.JSON(b), nil
}

func decodeChallenge(j datatypes.JSON) (types.Challenge, error) {
	var js jsonChallenge
	if err := json.Unmarshal(j, &js); err != nil {
		return types.Challenge{}, types.NewError(types.InvalidData, err)
	}
	var c types.Challenge
	var err error
	c.ContractID, err = types.ContractIDFromHex(js.ContractID)
	if err != nil {
		return types.Challenge{}, err
	}
	stateBytes, err := hex.DecodeString(js.StateID)
	if err != nil {
		return types.Challenge{}, types.NewError(types.InvalidData, err)
	}
	copy(c.StateID[:], stateBytes)
	bs := &bitset.BitSet{}
	if len(js.PieceIndices) > 0 {
		if err := bs.UnmarshalBinary(js.PieceIndices); err != nil {
			return types.Challenge{}, types.NewError(types.InvalidData, err)
		}
	}
	c.PieceIndices = bs
	c.Nonce = js.Nonce
	c.ExpireAt = time.Unix(js.ExpireAt, 0).UTC()
	c.Kind = types.ChallengeKind(js.Kind)
	return c, nil
}

// chunkKey renders a ChunkId as the hex string used for ChunkRefRow/
// DelSetRow primary keys (distinct from ChunkId.String()'s
// human-readable "hash:length" form, which doesn't round-trip through
// ChunkIdFromBytes).
func chunkKey(id types.ChunkId) string {
	return hex.EncodeToString(id.Bytes())
}

func chunkFromKey(key string) (types.ChunkId, error) {
	b, err := hex.DecodeString(key)
	if err != nil {
		return types.ChunkId{}, types.NewError(types.InvalidData, err)
	}
	return types.ChunkIdFromBytes(b)
}

func toContractRow(c types.Contract) ContractRow {
	return ContractRow{
		ContractID:         c.ContractID.String(),
		Customer:           c.Customer,
		Miner:              c.Miner,
		OrderID:            c.OrderID,
		MinerAccount:       c.MinerAccount,
		DeclaredMerkleRoot: c.DeclaredMerkleRoot,
		DeclaredPieceCount: c.DeclaredPieceCount,
		ChunkSize:          c.ChunkSize,
	}
}

func fromContractRow(r ContractRow) (types.Contract, error) {
	id, err := types.ContractIDFromHex(r.ContractID)
	if err != nil {
		return types.Contract{}, err
	}
	return types.Contract{
		ContractID:         id,
		Customer:           r.Customer,
		Miner:              r.Miner,
		OrderID:            r.OrderID,
		MinerAccount:       r.MinerAccount,
		DeclaredMerkleRoot: r.DeclaredMerkleRoot,
		DeclaredPieceCount: r.DeclaredPieceCount,
		ChunkSize:          r.ChunkSize,
	}, nil
}

func toContractInfoRow(ci types.ContractInfo) (ContractInfoRow, error) {
	meta, err := encodeMetaMerkle(ci.MetaMerkle)
	if err != nil {
		return ContractInfoRow{}, err
	}
	return ContractInfoRow{
		ContractID:      ci.ContractID.String(),
		Status:          int(ci.Status),
		LatestCheckTime: ci.LatestCheckTime,
		MetaMerkle:      meta,
		StoredSize:      ci.StoredSize,
		SumSize:         ci.SumSize,
	}, nil
}

func fromContractInfoRow(r ContractInfoRow) (types.ContractInfo, error) {
	id, err := types.ContractIDFromHex(r.ContractID)
	if err != nil {
		return types.ContractInfo{}, err
	}
	meta, err := decodeMetaMerkle(r.MetaMerkle)
	if err != nil {
		return types.ContractInfo{}, err
	}
	return types.ContractInfo{
		ContractID:      id,
		Status:          types.ContractStatus(r.Status),
		LatestCheckTime: r.LatestCheckTime,
		MetaMerkle:      meta,
		StoredSize:      r.StoredSize,
		SumSize:         r.SumSize,
	}, nil
}
